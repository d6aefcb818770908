// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package link

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultTCPTimeout bounds connect and one exchange.
const DefaultTCPTimeout = 10 * time.Second

// DialFunc opens a stream connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DefaultDialFunc dials with a connect timeout.
func DefaultDialFunc(timeout time.Duration) DialFunc {
	dialer := net.Dialer{Timeout: timeout}
	return dialer.DialContext
}

// TCP is a lazily dialed stream connection.
type TCP struct {
	// Connect string, host:port
	Address string
	// Connect & Read timeout of one exchange
	Timeout time.Duration
	// Transmission logger
	Logger Logger
	// Dial opens the connection, DefaultDialFunc(Timeout) when nil.
	Dial DialFunc
	// FlushStale discards buffered bytes before every exchange.
	FlushStale bool

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates a TCP link with default timeout.
func NewTCP(address string) *TCP {
	return &TCP{
		Address: address,
		Timeout: DefaultTCPTimeout,
	}
}

// Connect establishes a new connection to the address in Address.
func (t *TCP) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connect(context.Background())
}

func (t *TCP) connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	dial := t.Dial
	if dial == nil {
		dial = DefaultDialFunc(t.Timeout)
	}
	conn, err := dial(ctx, "tcp", t.Address)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

// Close closes current connection.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.close()
}

// close closes current connection. Caller must hold the mutex before calling this method.
func (t *TCP) close() (err error) {
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	return
}

// Connected reports whether a connection is open.
func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

// Exchange runs fn against the open connection with a deadline set from
// Timeout and ctx, whichever is earlier. A connection that failed inside fn
// is dropped so the next exchange redials.
func (t *TCP) Exchange(ctx context.Context, fn func(conn net.Conn) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return err
	}
	if t.FlushStale {
		if n, _ := Flush(t.conn); n > 0 {
			t.Logf("link: discarded %d stale bytes from %s", n, t.Address)
		}
	}
	var deadline time.Time
	if t.Timeout > 0 {
		deadline = time.Now().Add(t.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return err
	}
	err := fn(t.conn)
	var netErr net.Error
	if err != nil && (errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		t.Logf("link: dropping connection to %s: %v", t.Address, err)
		t.close()
	}
	return err
}

// Logf logs through Logger when one is set.
func (t *TCP) Logf(format string, v ...interface{}) {
	if t.Logger != nil {
		t.Logger.Printf(format, v...)
	}
}

// Flush discards bytes already buffered on conn, so that a late answer to a
// timed out request cannot be taken for the next response. It resets the
// read deadline.
func Flush(conn net.Conn) (int, error) {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}

	count := 0
	buffer := make([]byte, 1024)

	for {
		n, err := conn.Read(buffer)

		if err != nil {
			return count + n, err
		} else if n > 0 {
			count = count + n
		} else {
			// didn't flush any new bytes, return
			return count, err
		}
	}
}
