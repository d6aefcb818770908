package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lease could not be acquired in time.
// The transport has not been touched when it is returned.
var ErrLockTimeout = errors.New("session: timeout waiting for lock")

// LeaseStore is a shared key/value store with atomic conditional updates,
// such as a Redis or etcd client.
type LeaseStore interface {
	// SetNX stores value if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// CompareAndSwap replaces old by value and reports whether it did.
	CompareAndSwap(ctx context.Context, key, old, value string) (bool, error)
	// CompareAndDelete removes key if it still holds old.
	CompareAndDelete(ctx context.Context, key, old string) (bool, error)
}

const (
	defaultLeaseExpires = 120 * time.Second
	defaultLeaseTimeout = 60 * time.Second
	defaultLeasePoll    = 100 * time.Millisecond
)

// LeaseLock is a Locker holding an expiring lease in a LeaseStore. A lease
// whose expiry has passed is taken over with a compare-and-swap, so two
// waiters can never both take the same stale lease.
type LeaseLock struct {
	Store LeaseStore
	Key   string
	// Expires is the lease lifetime, 120s by default.
	Expires time.Duration
	// Timeout bounds the wait for the lease, 60s by default.
	Timeout time.Duration
	// Poll is the retry interval, 100ms by default.
	Poll time.Duration

	now func() time.Time

	mu   sync.Mutex
	held string
}

// NewLeaseLock creates a lock on key with default timings.
func NewLeaseLock(store LeaseStore, key string) *LeaseLock {
	return &LeaseLock{
		Store:   store,
		Key:     key,
		Expires: defaultLeaseExpires,
		Timeout: defaultLeaseTimeout,
		Poll:    defaultLeasePoll,
	}
}

func (l *LeaseLock) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Lock polls until the lease is free or stale, then takes it.
func (l *LeaseLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	poll := l.Poll
	if poll <= 0 {
		poll = defaultLeasePoll
	}
	deadline := l.clock().Add(l.Timeout)
	for {
		value, err := l.value()
		if err != nil {
			return err
		}
		ok, err := l.Store.SetNX(ctx, l.Key, value)
		if err != nil {
			return err
		}
		if !ok {
			ok, err = l.takeOver(ctx, value)
			if err != nil {
				return err
			}
		}
		if ok {
			l.held = value
			return nil
		}
		if !l.clock().Before(deadline) {
			return fmt.Errorf("%w %q after %v", ErrLockTimeout, l.Key, l.Timeout)
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// takeOver replaces an expired lease.
func (l *LeaseLock) takeOver(ctx context.Context, value string) (bool, error) {
	current, ok, err := l.Store.Get(ctx, l.Key)
	if err != nil || !ok {
		return false, err
	}
	expiry, err := leaseExpiry(current)
	if err != nil {
		// unreadable lease: treat as expired
		expiry = time.Time{}
	}
	if l.clock().Before(expiry) {
		return false, nil
	}
	return l.Store.CompareAndSwap(ctx, l.Key, current, value)
}

// Unlock releases the lease if it is still ours.
func (l *LeaseLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == "" {
		return nil
	}
	held := l.held
	l.held = ""
	_, err := l.Store.CompareAndDelete(ctx, l.Key, held)
	return err
}

// value encodes the expiry and a random owner token.
func (l *LeaseLock) value() (string, error) {
	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	expires := l.Expires
	if expires <= 0 {
		expires = defaultLeaseExpires
	}
	expiry := l.clock().Add(expires).UnixNano()
	return strconv.FormatInt(expiry, 10) + ":" + hex.EncodeToString(token), nil
}

func leaseExpiry(value string) (time.Time, error) {
	stamp, _, _ := strings.Cut(value, ":")
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("session: bad lease %q: %w", value, err)
	}
	return time.Unix(0, nanos), nil
}

// MemoryStore is a LeaseStore for locks shared between sessions of one process.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false, nil
	}
	s.m[key] = value
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key, old, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; !ok || v != old {
		return false, nil
	}
	s.m[key] = value
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, old string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; !ok || v != old {
		return false, nil
	}
	delete(s.m, key)
	return true, nil
}
