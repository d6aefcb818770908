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
	"net"
	"sync/atomic"
	"time"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/internal/link"
)

const (
	tcpProtocolIdentifier uint16 = 0x0000

	// Modbus Application Protocol
	tcpHeaderSize = 7
	tcpMaxLength  = 260
	tcpTimeout    = 10 * time.Second
)

// ErrTCPHeaderLength informs about a wrong header length.
type ErrTCPHeaderLength int

func (length ErrTCPHeaderLength) Error() string {
	return fmt.Sprintf("modbus: length in response header '%d' must not be zero or greater than '%v'",
		int(length), tcpMaxLength-tcpHeaderSize+1)
}

// TCPClientHandler implements Packager and Transporter interface.
type TCPClientHandler struct {
	tcpPackager
	tcpTransporter
}

// NewTCPClientHandler allocates a new TCPClientHandler.
func NewTCPClientHandler(address string) *TCPClientHandler {
	h := &TCPClientHandler{}
	h.Address = address
	h.Timeout = tcpTimeout
	h.FlushStale = true
	return h
}

// TCPClient creates TCP client with default handler and given connect string.
func TCPClient(address string) Client {
	handler := NewTCPClientHandler(address)
	return NewClient(handler)
}

// tcpPackager implements Packager interface.
type tcpPackager struct {
	// For synchronization between messages of server & client
	transactionID uint32
	// Broadcast address is 0
	SlaveID byte
}

// SetSlave sets modbus slave id for the next client operations
func (mb *tcpPackager) SetSlave(slaveID byte) {
	mb.SlaveID = slaveID
}

// Encode adds modbus application protocol header:
//
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
//	Function code: 1 byte
//	Data: n bytes
func (mb *tcpPackager) Encode(pdu *ProtocolDataUnit) (adu []byte, err error) {
	if len(pdu.Data) > tcpMaxLength-tcpHeaderSize-1 {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", len(pdu.Data), tcpMaxLength-tcpHeaderSize-1)
		return
	}
	adu = make([]byte, tcpHeaderSize+1+len(pdu.Data))

	// Transaction identifier
	transactionID := atomic.AddUint32(&mb.transactionID, 1)
	binary.BigEndian.PutUint16(adu, uint16(transactionID))
	// Protocol identifier
	binary.BigEndian.PutUint16(adu[2:], tcpProtocolIdentifier)
	// Length = sizeof(SlaveID) + sizeof(FunctionCode) + Data
	length := uint16(1 + 1 + len(pdu.Data))
	binary.BigEndian.PutUint16(adu[4:], length)
	// Unit identifier
	adu[6] = mb.SlaveID

	// PDU
	adu[tcpHeaderSize] = pdu.FunctionCode
	copy(adu[tcpHeaderSize+1:], pdu.Data)
	return
}

// Verify confirms transaction, protocol and unit id.
func (mb *tcpPackager) Verify(aduRequest []byte, aduResponse []byte) error {
	return verify(aduRequest, aduResponse)
}

// Decode extracts PDU from TCP frame:
//
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
func (mb *tcpPackager) Decode(adu []byte) (pdu *ProtocolDataUnit, err error) {
	if len(adu) < tcpHeaderSize+1 {
		err = frameErrorf("response length '%v' does not meet minimum '%v'", len(adu), tcpHeaderSize+1)
		return
	}
	// Read length value in the header
	length := binary.BigEndian.Uint16(adu[4:])
	pduLength := len(adu) - tcpHeaderSize
	if pduLength <= 0 || pduLength != int(length)-1 {
		err = frameErrorf("length in response '%v' does not match pdu data length '%v'", int(length)-1, pduLength)
		return
	}
	pdu = &ProtocolDataUnit{}
	// The first byte after header is function code
	pdu.FunctionCode = adu[tcpHeaderSize]
	pdu.Data = adu[tcpHeaderSize+1:]
	return
}

func verify(aduRequest []byte, aduResponse []byte) (err error) {
	if len(aduResponse) < tcpHeaderSize {
		err = frameErrorf("response length '%v' does not meet minimum '%v'", len(aduResponse), tcpHeaderSize)
		return
	}
	// Transaction id
	responseVal := binary.BigEndian.Uint16(aduResponse)
	requestVal := binary.BigEndian.Uint16(aduRequest)
	if responseVal != requestVal {
		err = frameErrorf("response transaction id '%v' does not match request '%v'", responseVal, requestVal)
		return
	}
	// Protocol id
	responseVal = binary.BigEndian.Uint16(aduResponse[2:])
	requestVal = binary.BigEndian.Uint16(aduRequest[2:])
	if responseVal != requestVal {
		err = frameErrorf("response protocol id '%v' does not match request '%v'", responseVal, requestVal)
		return
	}
	// Unit id (1 byte)
	if aduResponse[6] != aduRequest[6] {
		err = frameErrorf("response unit id '%v' does not match request '%v'", aduResponse[6], aduRequest[6])
		return
	}
	return
}

// tcpTransporter implements Transporter interface.
type tcpTransporter struct {
	link.TCP
}

// Send sends data to server and ensures response length is greater than header length.
func (mb *tcpTransporter) Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	err = mb.Exchange(ctx, func(conn net.Conn) error {
		mb.Logf("modbus: send % x", aduRequest)
		if _, err := conn.Write(aduRequest); err != nil {
			return err
		}
		var data [tcpMaxLength]byte
		// Read header first
		if _, err := io.ReadFull(conn, data[:tcpHeaderSize]); err != nil {
			return readError(err)
		}
		// Read length, ignore transaction & protocol id (4 bytes)
		length := int(binary.BigEndian.Uint16(data[4:]))
		if length <= 0 || length > (tcpMaxLength-(tcpHeaderSize-1)) {
			link.Flush(conn)
			return ErrTCPHeaderLength(length)
		}
		// Skip unit id
		length += tcpHeaderSize - 1
		if _, err := io.ReadFull(conn, data[tcpHeaderSize:length]); err != nil {
			return readError(err)
		}
		aduResponse = data[:length]
		mb.Logf("modbus: recv % x\n", aduResponse)
		return nil
	})
	return
}

// readError maps a deadline expiry or a peer that went away mid frame to
// ErrNoResponse, keeping the cause in the chain.
func readError(err error) error {
	if link.IsTimeout(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return err
}
