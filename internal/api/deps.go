package api

import (
	"context"

	"github.com/better-wallet/custody-wallets/internal/app"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// WalletService is the subset of app.WalletService used by the API layer.
// It is an interface to allow handler-level unit tests without a database.
type WalletService interface {
	Provision(ctx context.Context, chainIdentifier string) (*types.WalletView, error)
	ListWallets(ctx context.Context) ([]types.WalletView, error)
	GetWallet(ctx context.Context, walletID string) (*types.WalletView, error)
	GetBalance(ctx context.Context, walletID, chainIdentifier string) (*types.Balance, error)
	SignMessage(ctx context.Context, walletID string, message []byte, chainIdentifier string) (*custody.Signature, error)
	SendTransaction(ctx context.Context, walletID string, req app.SendRequest) (*custody.TxResult, error)
	ListTransfers(ctx context.Context, walletID string, limit int) ([]*types.Transfer, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ WalletService = (*app.WalletService)(nil)
