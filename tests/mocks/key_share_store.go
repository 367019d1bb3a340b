// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

type shareKey struct {
	address   string
	chainType types.ChainType
}

// MockKeyShareStore is an in-memory key-share store with the same
// upsert-by-primary-key semantics as the Postgres repository.
type MockKeyShareStore struct {
	mu      sync.Mutex
	records map[shareKey]*types.KeyShareRecord
	order   []shareKey
	writes  int
	lists   int

	ListErr   error
	UpsertErr error

	// AfterList runs after the n-th ListAll call (1-based) has taken its
	// snapshot, outside the lock. Tests use it to simulate a concurrent
	// writer finishing mid-flight.
	AfterList func(n int)
}

// NewMockKeyShareStore creates an empty store.
func NewMockKeyShareStore() *MockKeyShareStore {
	return &MockKeyShareStore{records: make(map[shareKey]*types.KeyShareRecord)}
}

// Seed inserts a record without counting it as a write.
func (m *MockKeyShareStore) Seed(address string, chainType types.ChainType, ciphertext string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(address, chainType, ciphertext)
}

// Writes returns the number of Upsert calls that reached the store.
func (m *MockKeyShareStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Len returns the number of stored records.
func (m *MockKeyShareStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MockKeyShareStore) put(address string, chainType types.ChainType, ciphertext string) {
	key := shareKey{address: address, chainType: chainType}
	if rec, ok := m.records[key]; ok {
		rec.EncryptedShares = ciphertext
		return
	}
	m.records[key] = &types.KeyShareRecord{
		Address:         address,
		ChainType:       chainType,
		EncryptedShares: ciphertext,
		CreatedAt:       time.Now().UTC(),
	}
	m.order = append(m.order, key)
}

// Find returns the record for (address, chainType) or nil.
func (m *MockKeyShareStore) Find(_ context.Context, address string, chainType types.ChainType) (*types.KeyShareRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[shareKey{address: address, chainType: chainType}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Upsert inserts or replaces the ciphertext for (address, chainType).
func (m *MockKeyShareStore) Upsert(_ context.Context, address string, chainType types.ChainType, ciphertext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.writes++
	m.put(address, chainType, ciphertext)
	return nil
}

// ListAll returns copies of all records in insertion order.
func (m *MockKeyShareStore) ListAll(_ context.Context) ([]*types.KeyShareRecord, error) {
	m.mu.Lock()
	m.lists++
	n := m.lists
	hook := m.AfterList
	if m.ListErr != nil {
		err := m.ListErr
		m.mu.Unlock()
		return nil, err
	}
	out := make([]*types.KeyShareRecord, 0, len(m.order))
	for _, key := range m.order {
		cp := *m.records[key]
		out = append(out, &cp)
	}
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return out, nil
}
