// Copyright 2018 xft. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package ascii

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/internal/link"
)

// DefaultPort is the port of the Espec TCP serial forwarder.
const DefaultPort = "10001"

// TCPClientHandler talks to one controller through a TCP forwarder. The
// forwarder mangles addressed frames, so commands go out without address.
type TCPClientHandler struct {
	framer
	link.TCP
}

// NewTCPClientHandler allocates a handler for host, or host:port when the
// forwarder does not listen on DefaultPort.
func NewTCPClientHandler(address string) *TCPClientHandler {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}
	h := &TCPClientHandler{}
	h.TCP.Address = address
	h.Timeout = link.DefaultTCPTimeout
	h.FlushStale = true
	return h
}

// Interact sends command and reads until the delimiter.
func (h *TCPClientHandler) Interact(ctx context.Context, command string) (response string, err error) {
	request := h.Encode(command)
	delimiter := h.delimiter()
	err = h.Exchange(ctx, func(conn net.Conn) error {
		h.Logf("ascii: send %q", request)
		if _, err := conn.Write(request); err != nil {
			return err
		}
		var recv []byte
		chunk := make([]byte, 256)
		for {
			if i := bytes.Index(recv, delimiter); i >= 0 {
				recv = recv[:i+len(delimiter)]
				break
			}
			if len(recv) >= maxResponse {
				return fmt.Errorf("ascii: response to %q exceeds %d bytes", command, maxResponse)
			}
			n, err := conn.Read(chunk)
			recv = append(recv, chunk[:n]...)
			if err != nil {
				if link.IsTimeout(err) || errors.Is(err, io.EOF) {
					return fmt.Errorf("%w to %q after %d bytes: %w", ErrNoResponse, command, len(recv), err)
				}
				return err
			}
		}
		h.Logf("ascii: recv %q", recv)
		response, err = h.Decode(command, recv)
		return err
	})
	return
}
