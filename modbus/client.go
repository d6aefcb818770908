// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
)

// ClientHandler is the interface that groups the Packager and Transporter methods.
type ClientHandler interface {
	Packager
	Transporter
	Connector
}

// ClientOption configures a client.
type ClientOption func(*client)

// WithFrameRetry makes the client repeat a request once when the response
// failed its integrity check.
func WithFrameRetry() ClientOption {
	return func(mb *client) {
		mb.frameRetry = true
	}
}

type client struct {
	packager    Packager
	transporter Transporter
	frameRetry  bool
}

// NewClient creates a new modbus client with given backend handler.
func NewClient(handler ClientHandler, opts ...ClientOption) Client {
	return NewClient2(handler, handler, opts...)
}

// NewClient2 creates a new modbus client with given backend packager and transporter.
func NewClient2(packager Packager, transporter Transporter, opts ...ClientOption) Client {
	mb := &client{packager: packager, transporter: transporter}
	for _, opt := range opts {
		opt(mb)
	}
	return mb
}

// Request:
//
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func (mb *client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return mb.readRegisters(ctx, FuncCodeReadHoldingRegisters, address, quantity)
}

// Request:
//
//	Function code         : 1 byte (0x04)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x04)
//	Byte count            : 1 byte
//	Input registers       : N bytes
func (mb *client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return mb.readRegisters(ctx, FuncCodeReadInputRegisters, address, quantity)
}

func (mb *client) readRegisters(ctx context.Context, functionCode byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v',", quantity, 1, 125)
	}
	request := ProtocolDataUnit{
		FunctionCode: functionCode,
		Data:         dataBlock(address, quantity),
	}
	response, err := mb.sendChecked(ctx, &request, func(response *ProtocolDataUnit) error {
		count := int(response.Data[0])
		length := len(response.Data) - 1
		if count != length {
			return frameErrorf("response data size '%v' does not match count '%v'", length, count)
		}
		if length != int(quantity)*2 {
			return frameErrorf("response data size '%v' does not match quantity '%v'", length, quantity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codec.Words(response.Data[1:]), nil
}

// Request:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
func (mb *client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         dataBlock(address, value),
	}
	response, err := mb.send(ctx, &request)
	if err != nil {
		return err
	}
	// Fixed response length
	if len(response.Data) != 4 {
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'", len(response.Data), 4)
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'", respValue, address)
	}
	respValue = binary.BigEndian.Uint16(response.Data[2:])
	if value != respValue {
		return fmt.Errorf("modbus: response value '%v' does not match request '%v'", respValue, value)
	}
	return nil
}

// Request:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func (mb *client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	quantity := len(values)
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v',", quantity, 1, 123)
	}
	request := ProtocolDataUnit{
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         dataBlockSuffix(codec.Bytes(values...), address, uint16(quantity)),
	}
	response, err := mb.send(ctx, &request)
	if err != nil {
		return err
	}
	// Fixed response length
	if len(response.Data) != 4 {
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'", len(response.Data), 4)
	}
	respValue := binary.BigEndian.Uint16(response.Data)
	if address != respValue {
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'", respValue, address)
	}
	respValue = binary.BigEndian.Uint16(response.Data[2:])
	if uint16(quantity) != respValue {
		return fmt.Errorf("modbus: response quantity '%v' does not match request '%v'", respValue, quantity)
	}
	return nil
}

func (mb *client) Send(ctx context.Context, request *ProtocolDataUnit) (*ProtocolDataUnit, error) {
	return mb.send(ctx, request)
}

// send sends request and checks possible exception in the response.
func (mb *client) send(ctx context.Context, request *ProtocolDataUnit) (response *ProtocolDataUnit, err error) {
	return mb.sendChecked(ctx, request, nil)
}

// sendChecked is send with check applied to every response. A frame error
// from check is retried like one from the packager.
func (mb *client) sendChecked(ctx context.Context, request *ProtocolDataUnit, check func(*ProtocolDataUnit) error) (response *ProtocolDataUnit, err error) {
	attempt := func() (*ProtocolDataUnit, error) {
		response, err := mb.exchange(ctx, request)
		if err == nil && check != nil {
			err = check(response)
		}
		return response, err
	}
	response, err = attempt()
	var frameErr *FrameError
	if mb.frameRetry && errors.As(err, &frameErr) {
		response, err = attempt()
	}
	return
}

func (mb *client) exchange(ctx context.Context, request *ProtocolDataUnit) (response *ProtocolDataUnit, err error) {
	aduRequest, err := mb.packager.Encode(request)
	if err != nil {
		return
	}
	aduResponse, err := mb.transporter.Send(ctx, aduRequest)
	if err != nil {
		return
	}
	if err = mb.packager.Verify(aduRequest, aduResponse); err != nil {
		return
	}
	response, err = mb.packager.Decode(aduResponse)
	if err != nil {
		return
	}
	// Check correct function code returned (exception)
	if response.FunctionCode != request.FunctionCode {
		err = responseError(response)
		return
	}
	if response.Data == nil || len(response.Data) == 0 {
		// Empty response
		err = fmt.Errorf("modbus: response data is empty")
		return
	}
	return
}

// dataBlock creates a sequence of uint16 data.
func dataBlock(value ...uint16) []byte {
	return codec.Bytes(value...)
}

// dataBlockSuffix creates a sequence of uint16 data and append the suffix plus its length.
func dataBlockSuffix(suffix []byte, value ...uint16) []byte {
	length := 2 * len(value)
	data := make([]byte, length+1+len(suffix))
	copy(data, codec.Bytes(value...))
	data[length] = uint8(len(suffix))
	copy(data[length+1:], suffix)
	return data
}

func responseError(response *ProtocolDataUnit) error {
	if response.FunctionCode&exceptionBit == 0 {
		return frameErrorf("unexpected function code '%v'", response.FunctionCode)
	}
	mbError := &Error{FunctionCode: response.FunctionCode}
	if len(response.Data) > 0 {
		mbError.ExceptionCode = response.Data[0]
	}
	return mbError
}
