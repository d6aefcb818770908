// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package modbus provides the register-level MODBUS RTU and TCP master used to
talk to register based chamber controllers. Only the function codes those
controllers need are implemented: read holding registers, read input
registers, write single register and write multiple registers.
*/
package modbus

import (
	"context"
	"errors"
	"fmt"
)

const (
	// FuncCodeReadHoldingRegisters 16-bit wise access
	FuncCodeReadHoldingRegisters = 3
	// FuncCodeReadInputRegisters 16-bit wise access
	FuncCodeReadInputRegisters = 4
	// FuncCodeWriteSingleRegister 16-bit wise access
	FuncCodeWriteSingleRegister = 6
	// FuncCodeWriteMultipleRegisters 16-bit wise access
	FuncCodeWriteMultipleRegisters = 16

	exceptionBit = 0x80
)

const (
	// ExceptionCodeIllegalFunction error code
	ExceptionCodeIllegalFunction = 1
	// ExceptionCodeIllegalDataAddress error code
	ExceptionCodeIllegalDataAddress = 2
	// ExceptionCodeIllegalDataValue error code
	ExceptionCodeIllegalDataValue = 3
	// ExceptionCodeServerDeviceFailure error code
	ExceptionCodeServerDeviceFailure = 4
	// ExceptionCodeAcknowledge error code
	ExceptionCodeAcknowledge = 5
	// ExceptionCodeServerDeviceBusy error code
	ExceptionCodeServerDeviceBusy = 6
	// ExceptionCodeNegativeAcknowledge error code
	ExceptionCodeNegativeAcknowledge = 7
	// ExceptionCodeMemoryParityError error code
	ExceptionCodeMemoryParityError = 8
	// ExceptionCodeGatewayPathUnavailable error code
	ExceptionCodeGatewayPathUnavailable = 10
	// ExceptionCodeGatewayTargetDeviceFailedToRespond error code
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

var exceptionDescriptions = map[byte]string{
	ExceptionCodeIllegalFunction:                    "Illegal Function",
	ExceptionCodeIllegalDataAddress:                 "Illegal Data Address",
	ExceptionCodeIllegalDataValue:                   "Illegal Data Value",
	ExceptionCodeServerDeviceFailure:                "Slave Device Failure",
	ExceptionCodeAcknowledge:                        "Acknowledge",
	ExceptionCodeServerDeviceBusy:                   "Slave Device Busy",
	ExceptionCodeNegativeAcknowledge:                "Negative Acknowledge",
	ExceptionCodeMemoryParityError:                  "Memory Parity Error",
	ExceptionCodeGatewayPathUnavailable:             "Gateway Path Unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "Gateway Target Device Failed To Respond",
}

// ErrNoResponse is returned when the device sent nothing, or stopped
// sending, before the transport timeout.
var ErrNoResponse = errors.New("modbus: no response")

// Error is a Modbus exception reported by the device.
type Error struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Description maps the exception code to its name, "Unknown error code"
// for codes outside the standard vocabulary.
func (e *Error) Description() string {
	if name, ok := exceptionDescriptions[e.ExceptionCode]; ok {
		return name
	}
	return "Unknown error code"
}

// Error converts known modbus exception code to error message.
func (e *Error) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.ExceptionCode, e.Description(), e.FunctionCode&^exceptionBit)
}

// FrameError reports a response that arrived but cannot be trusted:
// checksum, unit address or transaction id mismatch, or a malformed length.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "modbus: frame error: " + e.Reason
}

func frameErrorf(format string, v ...interface{}) error {
	return &FrameError{Reason: fmt.Sprintf(format, v...)}
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Packager specifies the communication layer.
type Packager interface {
	SetSlave(slaveID byte)
	Encode(pdu *ProtocolDataUnit) (adu []byte, err error)
	Decode(adu []byte) (pdu *ProtocolDataUnit, err error)
	Verify(aduRequest []byte, aduResponse []byte) (err error)
}

// Transporter specifies the transport layer.
type Transporter interface {
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
}

// Connector exposes the underlying handler capability for open/connect and close the transport channel.
type Connector interface {
	Connect() error
	Close() error
}
