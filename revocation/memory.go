package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process List. Expired entries are pruned lazily.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

var _ List = (*Memory)(nil)

// NewMemory returns an empty in-memory revocation list.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.entries[jti] = m.now().Add(clampTTL(ttl))
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(jti), nil
}

func (m *Memory) Consume(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(jti) {
		return false, nil
	}
	m.pruneLocked()
	m.entries[jti] = m.now().Add(clampTTL(ttl))
	return true, nil
}

func (m *Memory) activeLocked(jti string) bool {
	exp, ok := m.entries[jti]
	return ok && m.now().Before(exp)
}

func (m *Memory) pruneLocked() {
	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
}
