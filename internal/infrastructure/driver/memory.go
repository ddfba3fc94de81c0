package driver

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV in-process KeyValueDB, nothing survives a restart. Meant for tests
// and throwaway dev sessions.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

var _ KeyValueDB = &MemoryKV{}

// NewMemoryKV create an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

// Get implement KeyValueDB
func (m *MemoryKV) Get(key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrKeyNotFound
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(time.Now()) {
		m.Del(key)
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

// Set implement KeyValueDB
func (m *MemoryKV) Set(key string, value string) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value}
	m.mu.Unlock()
	return nil
}

// SetEX implement KeyValueDB
func (m *MemoryKV) SetEX(key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(expiration)}
	m.mu.Unlock()
	return nil
}

// Del implement KeyValueDB
func (m *MemoryKV) Del(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Exists implement KeyValueDB
func (m *MemoryKV) Exists(key string) (bool, error) {
	_, err := m.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Ping implement KeyValueDB
func (m *MemoryKV) Ping() error {
	return nil
}
