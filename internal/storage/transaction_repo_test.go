package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

func newTransfer(walletID string, at time.Time) *types.Transfer {
	return &types.Transfer{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Address:   "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		ChainType: types.ChainTypeEVM,
		NetworkID: "421614",
		To:        "0x000000000000000000000000000000000000dEaD",
		Amount:    "0.5",
		TxHash:    "0x" + uuid.NewString(),
		CreatedAt: at.UTC().Truncate(time.Microsecond),
	}
}

func TestTransactionRepository_RecordAndList(t *testing.T) {
	_, store := newTestRepo(t)
	repo := NewTransactionRepository(store)
	ctx := context.Background()
	walletID := uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DB().Exec(context.Background(), "DELETE FROM wallet_transfers WHERE wallet_id = $1", walletID)
	})

	base := time.Now()
	older := newTransfer(walletID, base.Add(-time.Minute))
	newer := newTransfer(walletID, base)
	newer.HasData = true
	require.NoError(t, repo.Record(ctx, older))
	require.NoError(t, repo.Record(ctx, newer))

	list, err := repo.ListByWallet(ctx, walletID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.True(t, list[0].HasData)
	assert.Equal(t, older.TxHash, list[1].TxHash)
	assert.True(t, newer.CreatedAt.Equal(list[0].CreatedAt))

	limited, err := repo.ListByWallet(ctx, walletID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := repo.GetByTxHash(ctx, "421614", older.TxHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)

	missing, err := repo.GetByTxHash(ctx, "421614", "0xmissing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransactionRepository_DuplicateHash(t *testing.T) {
	_, store := newTestRepo(t)
	repo := NewTransactionRepository(store)
	ctx := context.Background()
	walletID := uuid.NewString()
	t.Cleanup(func() {
		_, _ = store.DB().Exec(context.Background(), "DELETE FROM wallet_transfers WHERE wallet_id = $1", walletID)
	})

	first := newTransfer(walletID, time.Now())
	require.NoError(t, repo.Record(ctx, first))

	dup := newTransfer(walletID, time.Now())
	dup.TxHash = first.TxHash
	assert.ErrorIs(t, repo.Record(ctx, dup), ErrDuplicateTransfer)
}

func TestClampTransferLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{in: -1, want: DefaultTransferLimit},
		{in: 0, want: DefaultTransferLimit},
		{in: 10, want: 10},
		{in: MaxTransferLimit + 1, want: MaxTransferLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampTransferLimit(tt.in))
	}
}
