// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package ascii

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/internal/link"
)

// SerialClientHandler talks to one controller on a serial line.
type SerialClientHandler struct {
	framer
	link.Serial
}

// NewSerialClientHandler allocates a handler for the controller at station
// address on device, 9600 8N1 with a 3 second timeout.
func NewSerialClientHandler(device string, address int) *SerialClientHandler {
	h := &SerialClientHandler{}
	h.Address = address
	h.Config = link.SerialConfig(device)
	h.IdleTimeout = link.DefaultIdleTimeout
	return h
}

// Interact sends command and returns the response without delimiter.
// Bytes are read one at a time; an empty read means the port timeout
// expired and fails with ErrNoResponse.
func (h *SerialClientHandler) Interact(ctx context.Context, command string) (response string, err error) {
	request := h.Encode(command)
	delimiter := h.delimiter()
	err = h.Exchange(func(port io.ReadWriter) error {
		h.Logf("ascii: send %q", request)
		if _, err := port.Write(request); err != nil {
			return err
		}
		var recv []byte
		one := make([]byte, 1)
		for !bytes.HasSuffix(recv, delimiter) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(recv) >= maxResponse {
				return fmt.Errorf("ascii: response to %q exceeds %d bytes", command, maxResponse)
			}
			if _, err := link.ReadFull(port, one, time.Time{}); err != nil {
				if link.IsTimeout(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return fmt.Errorf("%w to %q after %d bytes", ErrNoResponse, command, len(recv))
				}
				return err
			}
			recv = append(recv, one[0])
		}
		h.Logf("ascii: recv %q", recv)
		response, err = h.Decode(command, recv)
		return err
	})
	return
}
