package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// MockTransferLog is an in-memory transfer log.
type MockTransferLog struct {
	mu        sync.Mutex
	transfers []types.Transfer

	RecordErr error
	ListErr   error
}

// Record stores a copy of t unless RecordErr is set.
func (m *MockTransferLog) Record(_ context.Context, t *types.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.transfers = append(m.transfers, *t)
	return nil
}

// ListByWallet returns the wallet's transfers newest first, at most limit
// when limit is positive.
func (m *MockTransferLog) ListByWallet(_ context.Context, walletID string, limit int) ([]*types.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var out []*types.Transfer
	for i := range m.transfers {
		if m.transfers[i].WalletID == walletID {
			cp := m.transfers[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of recorded transfers.
func (m *MockTransferLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}
