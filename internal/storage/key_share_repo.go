package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// KeyShareRepository persists encrypted key shares in wallet_key_shares.
// The (address, chain_type) primary key is the only uniqueness guarantee;
// callers never lock around writes.
type KeyShareRepository struct {
	db DBTX
}

// NewKeyShareRepository creates a repository over the store's pool.
func NewKeyShareRepository(store *Store) *KeyShareRepository {
	return &KeyShareRepository{db: store.pool}
}

// NewKeyShareRepositoryTx creates a repository bound to a transaction or connection.
func NewKeyShareRepositoryTx(db DBTX) *KeyShareRepository {
	return &KeyShareRepository{db: db}
}

// Find returns the record for (address, chainType), or nil if none exists.
func (r *KeyShareRepository) Find(ctx context.Context, address string, chainType types.ChainType) (*types.KeyShareRecord, error) {
	query := `
		SELECT address, chain_type, encrypted_shares, created_at
		FROM wallet_key_shares
		WHERE address = $1 AND chain_type = $2
	`

	var rec types.KeyShareRecord
	err := r.db.QueryRow(ctx, query, address, string(chainType)).Scan(
		&rec.Address,
		&rec.ChainType,
		&rec.EncryptedShares,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key share: %w", err)
	}

	return &rec, nil
}

// Upsert inserts the record or, on primary key conflict, replaces only the
// ciphertext. created_at keeps the first write's value.
func (r *KeyShareRepository) Upsert(ctx context.Context, address string, chainType types.ChainType, ciphertext string) error {
	query := `
		INSERT INTO wallet_key_shares (address, chain_type, encrypted_shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, chain_type)
		DO UPDATE SET encrypted_shares = EXCLUDED.encrypted_shares
	`

	if _, err := r.db.Exec(ctx, query, address, string(chainType), ciphertext); err != nil {
		return fmt.Errorf("failed to upsert key share: %w", err)
	}

	return nil
}

// ListAll returns every record in creation order.
func (r *KeyShareRepository) ListAll(ctx context.Context) ([]*types.KeyShareRecord, error) {
	query := `
		SELECT address, chain_type, encrypted_shares, created_at
		FROM wallet_key_shares
		ORDER BY created_at ASC, address ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list key shares: %w", err)
	}
	defer rows.Close()

	var records []*types.KeyShareRecord
	for rows.Next() {
		var rec types.KeyShareRecord
		if err := rows.Scan(
			&rec.Address,
			&rec.ChainType,
			&rec.EncryptedShares,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan key share: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate key shares: %w", err)
	}

	return records, nil
}
