package app

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// DeriveIdentity returns the wallet id for (address, chainType): the first
// 16 bytes of SHA-256(address ":" chainType) laid out as a version 8 UUID.
// The id is never stored; it is recomputed on every lookup.
func DeriveIdentity(address string, chainType types.ChainType) string {
	sum := sha256.Sum256([]byte(address + ":" + string(chainType)))

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x80 // version 8
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 9562 variant
	return id.String()
}

// CanonicalAddress normalizes address so that one wallet always derives one
// identity: EIP-55 checksum for EVM, unchanged base58 for Solana.
func CanonicalAddress(address string, chainType types.ChainType) string {
	if chainType == types.ChainTypeEVM && common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

func validIdentity(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.Version() == 8
}
