package identity

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Expiry is not modelled.
type Memory struct {
	mu sync.RWMutex
	c  Credentials
}

// NewMemory returns a store seeded with c.
func NewMemory(c Credentials) *Memory {
	return &Memory{c: c}
}

func (m *Memory) UserID(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c.UserID, m.c.UserID != "", nil
}

func (m *Memory) AccessToken(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c.AccessToken, m.c.AccessToken != "", nil
}

func (m *Memory) RefreshToken(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c.RefreshToken, m.c.RefreshToken != "", nil
}

func (m *Memory) Persist(_ context.Context, c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.UserID != "" {
		m.c.UserID = c.UserID
	}
	if c.AccessToken != "" {
		m.c.AccessToken = c.AccessToken
	}
	if c.RefreshToken != "" {
		m.c.RefreshToken = c.RefreshToken
	}
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = Credentials{}
	return nil
}

// Credentials returns a copy of the stored values.
func (m *Memory) Credentials() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.c
}
