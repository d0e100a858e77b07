// Package lock provides short-lived exclusive locks keyed by string, used
// to refuse a second execution of the same proposal while one is running.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrHeld is returned when the key is already locked.
	ErrHeld = errors.New("lock held")
	// ErrLost is returned by Extend once the lease has expired or another
	// holder has taken the key.
	ErrLost = errors.New("lock lost")
)

// Lease is a held lock.
type Lease interface {
	// Extend pushes the expiry out to ttl from now.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release gives the lock back. Releasing an expired or stolen lease
	// is a no-op.
	Release(ctx context.Context) error
}

// Locker acquires exclusive locks with a TTL.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// MemoryLocker is an in-process Locker for lite mode and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	now   func() time.Time
	token uint64
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryLease{}, now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if lease, ok := m.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrHeld
	}
	m.token++
	m.held[key] = memoryLease{token: m.token, expires: now.Add(ttl)}
	return &memoryHandle{m: m, key: key, token: m.token}, nil
}

type memoryHandle struct {
	m     *MemoryLocker
	key   string
	token uint64
}

func (h *memoryHandle) Extend(_ context.Context, ttl time.Duration) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	now := h.m.now()
	lease, ok := h.m.held[h.key]
	if !ok || lease.token != h.token || !now.Before(lease.expires) {
		return ErrLost
	}
	lease.expires = now.Add(ttl)
	h.m.held[h.key] = lease
	return nil
}

func (h *memoryHandle) Release(context.Context) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if lease, ok := h.m.held[h.key]; ok && lease.token == h.token {
		delete(h.m.held, h.key)
	}
	return nil
}
