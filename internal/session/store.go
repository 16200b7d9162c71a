// Package session persists the opaque session token used to resume a chat
// session after a reconnect or a restart of the client.
package session

import (
	"context"
	"sync"
)

// Store holds at most one session token.
type Store interface {
	// Get returns the current token, or "" when none is stored.
	Get(ctx context.Context) (string, error)

	// Set replaces the stored token.
	Set(ctx context.Context, token string) error

	// Clear removes the stored token.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored token.
func (m *MemoryStore) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

// Set replaces the stored token.
func (m *MemoryStore) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear removes the stored token.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
