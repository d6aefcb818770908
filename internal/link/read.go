// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package link

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/grid-x/serial"
)

// ErrTimeout is returned by ReadFull when the deadline passes before buf is filled.
var ErrTimeout = errors.New("link: read deadline exceeded")

// ReadFull reads exactly len(buf) bytes from r. Serial ports report an
// expired read timeout as a zero length read or as serial.ErrTimeout, so
// both are retried until deadline. A zero deadline means a single expired
// read is a timeout.
func ReadFull(r io.Reader, buf []byte, deadline time.Time) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if errors.Is(err, serial.ErrTimeout) && n < len(buf) {
			err = nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n < len(buf) {
				return n, io.ErrUnexpectedEOF
			}
			if n == len(buf) {
				return n, nil
			}
			return n, err
		}
		if m == 0 && (deadline.IsZero() || !time.Now().Before(deadline)) {
			return n, ErrTimeout
		}
	}
	return n, nil
}

// IsTimeout reports whether err is an I/O deadline expiry on a socket or a
// serial port.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
