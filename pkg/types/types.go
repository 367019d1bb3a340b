package types

import (
	"math/big"
	"time"
)

// ChainType identifies a chain family. Key-share records are keyed by
// (address, ChainType), so every chain of a family shares one wallet.
type ChainType string

// ChainType constants
const (
	ChainTypeEVM    ChainType = "evm"
	ChainTypeSolana ChainType = "solana"
)

// String returns the family identifier.
func (c ChainType) String() string {
	return string(c)
}

// IsValid reports whether c is a known chain family.
func (c ChainType) IsValid() bool {
	switch c {
	case ChainTypeEVM, ChainTypeSolana:
		return true
	default:
		return false
	}
}

// ThresholdScheme is the signing scheme requested from the custody provider.
type ThresholdScheme string

// Only 2-of-2 is used: the provider holds one share, this service the other.
const (
	ThresholdTwoOfTwo ThresholdScheme = "TWO_OF_TWO"
)

// KeyShareRecord is one row of the key-share table.
type KeyShareRecord struct {
	Address         string
	ChainType       ChainType
	EncryptedShares string
	CreatedAt       time.Time
}

// WalletView is the read model returned to callers.
type WalletView struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	ChainType ChainType `json:"chain_type"`
	NetworkID string    `json:"network_id"`
	IsNew     bool      `json:"is_new"`
}

// Balance is a native-asset balance. Amount is a decimal string in whole
// units; Raw is the amount in the smallest unit (wei, lamports).
type Balance struct {
	Address  string   `json:"address"`
	Amount   string   `json:"balance"`
	Symbol   string   `json:"symbol"`
	Decimals int      `json:"decimals"`
	Raw      *big.Int `json:"-"`
}

// Transfer is one broadcast native transfer. Amount is in whole units.
type Transfer struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"wallet_id"`
	Address   string    `json:"from"`
	ChainType ChainType `json:"chain_type"`
	NetworkID string    `json:"network_id"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	HasData   bool      `json:"has_data"`
	TxHash    string    `json:"transaction_hash"`
	CreatedAt time.Time `json:"created_at"`
}
