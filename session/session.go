/*
Package session serializes access to one physical controller.

Every operation runs inside Session.Do: the session is locked (optionally
also across processes with a lease lock), the transport is connected, the
operation runs, and the transport is closed again before the lock is
released. A Do nested inside another Do of the same session, reached
through the context passed to the outer callback, runs inline on the
already open connection.
*/
package session

import (
	"context"
	"time"
)

// Connector opens and closes a transport.
type Connector interface {
	Connect() error
	Close() error
}

// Locker is a lock shared with other processes.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Logger is the interface to the required logging functions.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Option configures a Session.
type Option func(*Session)

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(s *Session) {
		s.locker = l
	}
}

// WithSettleDelay waits d after every close. Some controller firmware
// refuses a TCP connection made right after the previous one closed.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Session) {
		s.settle = d
	}
}

// WithLogger logs cleanup failures that would otherwise be hidden by the
// operation's own error.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// Session owns the transport of one controller.
type Session struct {
	conn   Connector
	locker Locker
	settle time.Duration
	logger Logger

	sem chan struct{}
}

type heldKey struct {
	s *Session
}

// New creates a session over conn.
func New(conn Connector, opts ...Option) *Session {
	s := &Session{
		conn: conn,
		sem:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Held reports whether ctx was handed out by a Do of this session that is
// still running.
func (s *Session) Held(ctx context.Context) bool {
	held, _ := ctx.Value(heldKey{s}).(bool)
	return held
}

// Do runs fn with exclusive access to the connected transport. The error
// of fn is returned unchanged; cleanup runs on every exit path, panics
// included.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.Held(ctx) {
		return fn(ctx)
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if s.locker != nil {
		if err = s.locker.Lock(ctx); err != nil {
			return err
		}
		defer func() {
			// the lease must go even if ctx is already cancelled
			if uerr := s.locker.Unlock(context.WithoutCancel(ctx)); uerr != nil {
				s.logf("session: unlock: %v", uerr)
			}
		}()
	}

	if err = s.conn.Connect(); err != nil {
		return err
	}
	defer func() {
		cerr := s.conn.Close()
		if s.settle > 0 {
			time.Sleep(s.settle)
		}
		if cerr == nil {
			return
		}
		if err == nil {
			err = cerr
			return
		}
		s.logf("session: close after failed operation: %v", cerr)
	}()

	return fn(context.WithValue(ctx, heldKey{s}, true))
}

func (s *Session) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
