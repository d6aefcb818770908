// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "context"

// Client is the register access surface a chamber controller needs.
type Client interface {
	// ReadHoldingRegisters reads the contents of a contiguous block of
	// holding registers in a remote device and returns register values.
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) (results []uint16, err error)
	// ReadInputRegisters reads from 1 to 125 contiguous input registers in
	// a remote device and returns input registers.
	ReadInputRegisters(ctx context.Context, address, quantity uint16) (results []uint16, err error)
	// WriteSingleRegister writes a single holding register in a remote
	// device. The echoed address and value are checked.
	WriteSingleRegister(ctx context.Context, address, value uint16) error
	// WriteMultipleRegisters writes a block of contiguous registers
	// (1 to 123 registers) in a remote device. The echoed address and
	// quantity are checked.
	WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error
	// Send passes a raw request through and returns the raw response.
	// Exception responses are returned as *Error.
	Send(ctx context.Context, request *ProtocolDataUnit) (*ProtocolDataUnit, error)
}
