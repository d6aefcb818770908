// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package link provides the byte-stream channels the framing transports run over:
a serial line and a TCP stream, both opened lazily and closed explicitly.
*/
package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	// Default timeout
	serialTimeout = 3 * time.Second
	// DefaultIdleTimeout closes a serial port left unused for a minute.
	DefaultIdleTimeout = 60 * time.Second
)

// Logger is the interface to the required logging functions.
type Logger interface {
	Printf(format string, v ...interface{})
}

// SerialDialFunc opens a serial port.
type SerialDialFunc func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// Serial has configuration and I/O controller of one serial line.
type Serial struct {
	// Serial port configuration.
	serial.Config

	Logger      Logger
	IdleTimeout time.Duration
	// Dial opens the port, serial.Open when nil.
	Dial SerialDialFunc

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

// SerialConfig returns the default port configuration (9600 8N1).
func SerialConfig(address string) serial.Config {
	return serial.Config{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialTimeout,
	}
}

// NewSerial creates a serial line with default configuration.
func NewSerial(address string) *Serial {
	return &Serial{
		Config:      SerialConfig(address),
		IdleTimeout: DefaultIdleTimeout,
	}
}

// Connect opens the port.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connect()
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (s *Serial) connect() error {
	if s.port == nil {
		dial := s.Dial
		if dial == nil {
			dial = openSerial
		}
		port, err := dial(&s.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", s.Config.Address, err)
		}
		s.port = port
	}
	return nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (s *Serial) close() (err error) {
	if s.port != nil {
		err = s.port.Close()
		s.port = nil
	}
	return
}

// Connected reports whether the port is open.
func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port != nil
}

// Exchange runs fn against the open port, opening it first if needed.
// Exchanges on one Serial never overlap.
func (s *Serial) Exchange(fn func(port io.ReadWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return err
	}
	// Start the timer to close when idle
	s.lastActivity = time.Now()
	s.startCloseTimer()
	return fn(s.port)
}

// Logf logs through Logger when one is set.
func (s *Serial) Logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}

func (s *Serial) startCloseTimer() {
	if s.IdleTimeout <= 0 {
		return
	}
	if s.closeTimer == nil {
		s.closeTimer = time.AfterFunc(s.IdleTimeout, s.closeIdle)
	} else {
		s.closeTimer.Reset(s.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (s *Serial) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(s.lastActivity); idle >= s.IdleTimeout {
		s.Logf("link: closing %s due to idle timeout: %v", s.Address, idle)
		s.close()
	}
}
