package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// DefaultTransferLimit caps ListByWallet when no limit is given.
const DefaultTransferLimit = 50

// MaxTransferLimit is the largest page ListByWallet returns.
const MaxTransferLimit = 500

// ErrDuplicateTransfer is returned when a transaction hash is recorded twice
// on the same network.
var ErrDuplicateTransfer = errors.New("transfer already recorded")

// TransactionRepository persists broadcast transfers in wallet_transfers.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(store *Store) *TransactionRepository {
	return &TransactionRepository{db: store.pool}
}

// Record inserts a broadcast transfer. ID and CreatedAt must be set.
func (r *TransactionRepository) Record(ctx context.Context, t *types.Transfer) error {
	query := `
		INSERT INTO wallet_transfers (
			id, wallet_id, address, chain_type, network_id,
			to_address, amount, has_data, transaction_hash, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.WalletID,
		t.Address,
		string(t.ChainType),
		t.NetworkID,
		t.To,
		t.Amount,
		t.HasData,
		t.TxHash,
		t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTransfer
		}
		return fmt.Errorf("failed to record transfer: %w", err)
	}

	return nil
}

// GetByTxHash retrieves a transfer by network and on-chain hash, or nil.
func (r *TransactionRepository) GetByTxHash(ctx context.Context, networkID, txHash string) (*types.Transfer, error) {
	query := `
		SELECT id::text, wallet_id, address, chain_type, network_id,
			to_address, amount, has_data, transaction_hash, created_at
		FROM wallet_transfers
		WHERE network_id = $1 AND transaction_hash = $2
	`

	t, err := scanTransfer(r.db.QueryRow(ctx, query, networkID, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer by hash: %w", err)
	}
	return t, nil
}

// ListByWallet returns a wallet's transfers, newest first.
func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID string, limit int) ([]*types.Transfer, error) {
	limit = clampTransferLimit(limit)

	query := `
		SELECT id::text, wallet_id, address, chain_type, network_id,
			to_address, amount, has_data, transaction_hash, created_at
		FROM wallet_transfers
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*types.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}

	return transfers, nil
}

func clampTransferLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTransferLimit
	case limit > MaxTransferLimit:
		return MaxTransferLimit
	default:
		return limit
	}
}

func scanTransfer(row pgx.Row) (*types.Transfer, error) {
	var t types.Transfer
	if err := row.Scan(
		&t.ID,
		&t.WalletID,
		&t.Address,
		&t.ChainType,
		&t.NetworkID,
		&t.To,
		&t.Amount,
		&t.HasData,
		&t.TxHash,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
