// Package custody wraps the external threshold-signature custody provider.
//
// Every chain family gets one Client. Clients share the Provider capability
// contract, the error classifier and the outbound throttle through Base, so
// family packages only add chain-specific transaction building and reads.
package custody

import (
	"context"
	"encoding/json"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// KeyShares is the application-held share set returned by the provider.
// Its contents are opaque and only ever round-trip back to the provider.
type KeyShares []json.RawMessage

// CreateWalletParams selects the network the wallet is created for.
type CreateWalletParams struct {
	Chain chains.Metadata
}

// CreatedWallet is the provider's answer to a wallet creation.
type CreatedWallet struct {
	Address string    `json:"address"`
	Shares  KeyShares `json:"shares"`
}

// SignMessageParams carries everything a remote message signature needs.
type SignMessageParams struct {
	Chain   chains.Metadata
	Address string
	Shares  KeyShares
	Message []byte
}

// Signature is a family-encoded signature: 0x-hex for EVM, base58 for Solana.
type Signature struct {
	Signature string `json:"signature"`
}

// SendParams describes a native transfer, optionally with EVM calldata.
type SendParams struct {
	Chain   chains.Metadata
	Address string
	Shares  KeyShares
	To      string
	// Amount in whole units as a decimal string ("0.01").
	Amount string
	Data   []byte
}

// TxResult is the broadcast transaction hash or signature.
type TxResult struct {
	Hash string `json:"transaction_hash"`
}

// Client is the per-family custody capability used by the orchestrator.
type Client interface {
	Family() types.ChainType
	CreateWallet(ctx context.Context, params CreateWalletParams) (*CreatedWallet, error)
	GetBalance(ctx context.Context, chain chains.Metadata, address string) (*types.Balance, error)
	SignMessage(ctx context.Context, params SignMessageParams) (*Signature, error)
	SendTransaction(ctx context.Context, params SendParams) (*TxResult, error)
}

// AccountRequest asks the provider for a new wallet account.
type AccountRequest struct {
	Scheme           types.ThresholdScheme `json:"threshold_signature_scheme"`
	BackUpToProvider bool                  `json:"back_up_to_provider"`
	NetworkID        string                `json:"network_id"`
}

// SignRequest asks the provider to co-sign Payload with the caller's shares.
// For transactions Payload is the family's signing preimage (EVM signer hash,
// serialized Solana message); for messages it is the raw message.
type SignRequest struct {
	NetworkID string    `json:"network_id"`
	Address   string    `json:"address"`
	Shares    KeyShares `json:"external_server_key_shares"`
	Payload   []byte    `json:"payload"`
}

// Provider is the remote custody capability for one chain family. Its wire
// protocol belongs to the provider; failures come back as any error shape and
// are normalized by Classify.
type Provider interface {
	Authenticate(ctx context.Context, credential string) error
	CreateWalletAccount(ctx context.Context, req AccountRequest) (*CreatedWallet, error)
	SignMessage(ctx context.Context, req SignRequest) ([]byte, error)
	SignTransaction(ctx context.Context, req SignRequest) ([]byte, error)
}
