package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Memory is a process-local Locker. Expired entries are treated as absent and
// swept lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// NewMemoryWithClock is used by tests that need to move time forward.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]entry), now: now}
}

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return Lease{}, false, nil
	}

	l := Lease{Key: key, Token: newToken()}
	m.entries[key] = entry{token: l.Token, expiresAt: now.Add(ttl)}
	return l, true, nil
}

func (m *Memory) Refresh(_ context.Context, l Lease, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[l.Key]
	if !ok || e.token != l.Token || !now.Before(e.expiresAt) {
		return ErrNotHeld
	}
	e.expiresAt = now.Add(ttl)
	m.entries[l.Key] = e
	return nil
}

func (m *Memory) Release(_ context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[l.Key]
	if !ok || e.token != l.Token {
		return ErrNotHeld
	}
	delete(m.entries, l.Key)
	return nil
}

func (m *Memory) Held(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}
