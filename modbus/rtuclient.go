// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/internal/link"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// RTUClientHandler implements Packager and Transporter interface.
type RTUClientHandler struct {
	rtuPackager
	rtuSerialTransporter
}

// NewRTUClientHandler allocates and initializes a RTUClientHandler.
func NewRTUClientHandler(address string) *RTUClientHandler {
	handler := &RTUClientHandler{}
	handler.Config = link.SerialConfig(address)
	handler.IdleTimeout = link.DefaultIdleTimeout
	return handler
}

// RTUClient creates RTU client with default handler and given connect string.
func RTUClient(address string) Client {
	handler := NewRTUClientHandler(address)
	return NewClient(handler)
}

// rtuPackager implements Packager interface.
type rtuPackager struct {
	SlaveID byte
}

// SetSlave sets modbus slave id for the next client operations
func (mb *rtuPackager) SetSlave(slaveID byte) {
	mb.SlaveID = slaveID
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 byte
func (mb *rtuPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, rtuMaxSize)
		return
	}
	adu = make([]byte, 0, length)
	adu = append(adu, mb.SlaveID, pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	adu = codec.AppendCRC(adu)
	return
}

// Verify verifies response length and slave id.
func (mb *rtuPackager) Verify(aduRequest []byte, aduResponse []byte) (err error) {
	length := len(aduResponse)
	// Minimum size (including address, function and CRC)
	if length < rtuMinSize {
		err = frameErrorf("response length '%v' does not meet minimum '%v'", length, rtuMinSize)
		return
	}
	// Slave address must match
	if aduResponse[0] != aduRequest[0] {
		err = frameErrorf("response slave id '%v' does not match request '%v'", aduResponse[0], aduRequest[0])
		return
	}
	return
}

// Decode extracts PDU from RTU frame and verify CRC.
func (mb *rtuPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	length := len(adu)
	if length < rtuMinSize {
		err = frameErrorf("response length '%v' does not meet minimum '%v'", length, rtuMinSize)
		return
	}
	// Calculate checksum
	expected := codec.CRC16(adu[0 : length-2])
	checksum := uint16(adu[length-1])<<8 | uint16(adu[length-2])
	if checksum != expected {
		err = frameErrorf("response crc '%#04x' does not match expected '%#04x'", checksum, expected)
		return
	}
	// Function code & data
	pdu = &ProtocolDataUnit{}
	pdu.FunctionCode = adu[1]
	pdu.Data = adu[2 : length-2]
	return
}

// rtuSerialTransporter implements Transporter interface.
type rtuSerialTransporter struct {
	link.Serial

	// FrameDelay replaces the silent interval computed from the baud rate
	// when set. Some controllers need far more than 3.5 characters.
	FrameDelay time.Duration
}

// InvalidLengthError is returned by readResponse when the modbus response would overflow buffer
type InvalidLengthError struct {
	length byte // length received which triggered the error
}

// Error implements the error interface
func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("modbus: invalid length received: %d", e.length)
}

// readResponse reads one response frame: the address and function code,
// the body whose size the function code determines, and the CRC.
func readResponse(r io.Reader, deadline time.Time) ([]byte, error) {
	data := make([]byte, rtuMaxSize)
	n := 0
	read := func(count int) error {
		if n+count > len(data) {
			return frameErrorf("response exceeds '%v' bytes", rtuMaxSize)
		}
		m, err := link.ReadFull(r, data[n:n+count], deadline)
		n += m
		if err == nil {
			return nil
		}
		if link.IsTimeout(err) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w after %d bytes", ErrNoResponse, n)
		}
		return err
	}

	if err := read(2); err != nil {
		return data[:n], err
	}
	functionCode := data[1]
	switch {
	case functionCode&exceptionBit != 0:
		if err := read(1); err != nil {
			return data[:n], err
		}
	case functionCode == FuncCodeReadHoldingRegisters, functionCode == FuncCodeReadInputRegisters:
		if err := read(1); err != nil {
			return data[:n], err
		}
		length := data[2]
		// max length = rtuMaxSize - SlaveID(1) - FunctionCode(1) - length(1) - CRC(2)
		if length > rtuMaxSize-5 || length == 0 {
			return data[:n], &InvalidLengthError{length: length}
		}
		if err := read(int(length)); err != nil {
			return data[:n], err
		}
	case functionCode == FuncCodeWriteSingleRegister, functionCode == FuncCodeWriteMultipleRegisters:
		if err := read(4); err != nil {
			return data[:n], err
		}
	default:
		return data[:n], frameErrorf("function code '%v' not handled", functionCode)
	}
	if err := read(2); err != nil {
		return data[:n], err
	}
	return data[:n], nil
}

// Send writes the request, waits the inter-frame silence and reads the
// response. Reads are bounded by the port timeout and the context deadline.
func (mb *rtuSerialTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	err = mb.Exchange(func(port io.ReadWriter) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mb.Logf("modbus: send % x\n", aduRequest)
		if _, err := port.Write(aduRequest); err != nil {
			return err
		}
		bytesToRead := calculateResponseLength(aduRequest)
		if err := sleep(ctx, mb.calculateDelay(len(aduRequest)+bytesToRead)); err != nil {
			return err
		}

		deadline := time.Now().Add(mb.Config.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		data, err := readResponse(port, deadline)
		mb.Logf("modbus: recv % x\n", data)
		aduResponse = data
		return err
	})
	return
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// charDuration is the time one 11 bit character takes on the line.
func (mb *rtuSerialTransporter) charDuration() time.Duration {
	return time.Duration(float64(time.Second) / float64(mb.BaudRate) * 11)
}

// characterDelay is the 1.5 character inter-character timeout.
func (mb *rtuSerialTransporter) characterDelay() time.Duration {
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 750 * time.Microsecond
	}
	return mb.charDuration() * 3 / 2
}

// frameDelay is the 3.5 character silent interval between frames.
// See MODBUS over Serial Line - Specification and Implementation Guide (page 13).
func (mb *rtuSerialTransporter) frameDelay() time.Duration {
	if mb.FrameDelay > 0 {
		return mb.FrameDelay
	}
	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return mb.charDuration() * 7 / 2
}

// calculateDelay roughly calculates time needed for the next frame.
func (mb *rtuSerialTransporter) calculateDelay(chars int) time.Duration {
	return time.Duration(chars)*mb.characterDelay() + mb.frameDelay()
}

func calculateResponseLength(adu []byte) int {
	length := rtuMinSize
	if len(adu) < 6 {
		return length
	}
	switch adu[1] {
	case FuncCodeReadInputRegisters,
		FuncCodeReadHoldingRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleRegisters:
		length += 4
	default:
	}
	return length
}
