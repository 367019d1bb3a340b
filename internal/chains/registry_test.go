package chains

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

func TestRegistry_Resolve(t *testing.T) {
	r := Default()

	tests := []struct {
		name      string
		input     string
		networkID string
		family    types.ChainType
	}{
		{name: "decimal chain id", input: "421614", networkID: "421614", family: types.ChainTypeEVM},
		{name: "hex chain id", input: "0x66eee", networkID: "421614", family: types.ChainTypeEVM},
		{name: "network name", input: "arbitrum-sepolia", networkID: "421614", family: types.ChainTypeEVM},
		{name: "name is case insensitive", input: "  Base-Sepolia ", networkID: "84532", family: types.ChainTypeEVM},
		{name: "solana numeric network", input: "103", networkID: "103", family: types.ChainTypeSolana},
		{name: "solana name", input: "solana-mainnet", networkID: "101", family: types.ChainTypeSolana},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.networkID, m.NetworkID)
			assert.Equal(t, tt.family, m.Family)
		})
	}
}

func TestRegistry_ResolveUnsupported(t *testing.T) {
	r := Default()

	for _, input := range []string{"999999", "", "dogechain", "0xzz"} {
		t.Run(input, func(t *testing.T) {
			_, err := r.Resolve(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedChain))
			assert.False(t, r.IsSupported(input))
		})
	}
}

func TestRegistry_NumericAndSymbolicAgree(t *testing.T) {
	r := Default()

	for _, m := range r.All() {
		byName, err := r.Resolve(m.Name)
		require.NoError(t, err)
		byID, err := r.Resolve(m.NetworkID)
		require.NoError(t, err)
		assert.Equal(t, byName, byID)
	}
}

func TestRegistry_DefaultFor(t *testing.T) {
	r := Default()

	evm, err := r.DefaultFor(types.ChainTypeEVM)
	require.NoError(t, err)
	assert.Equal(t, int64(421614), evm.ChainID)

	sol, err := r.DefaultFor(types.ChainTypeSolana)
	require.NoError(t, err)
	assert.Equal(t, "103", sol.NetworkID)

	_, err = r.DefaultFor(types.ChainType("bitcoin"))
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestNewRegistry_RejectsAmbiguousTables(t *testing.T) {
	base := Metadata{ChainID: 1, NetworkID: "1", Name: "one", Family: types.ChainTypeEVM, Default: true}

	tests := []struct {
		name     string
		networks []Metadata
		errMsg   string
	}{
		{
			name:     "duplicate id",
			networks: []Metadata{base, {ChainID: 1, NetworkID: "1", Name: "other", Family: types.ChainTypeEVM}},
			errMsg:   "duplicate chain id",
		},
		{
			name:     "duplicate name",
			networks: []Metadata{base, {ChainID: 2, NetworkID: "2", Name: "ONE", Family: types.ChainTypeEVM}},
			errMsg:   "duplicate network name",
		},
		{
			name:     "unknown family",
			networks: []Metadata{{ChainID: 3, Name: "btc", Family: types.ChainType("utxo")}},
			errMsg:   "unknown family",
		},
		{
			name:     "two defaults",
			networks: []Metadata{base, {ChainID: 2, NetworkID: "2", Name: "two", Family: types.ChainTypeEVM, Default: true}},
			errMsg:   "two default networks",
		},
		{
			name:     "no default",
			networks: []Metadata{{ChainID: 2, NetworkID: "2", Name: "two", Family: types.ChainTypeEVM}},
			errMsg:   "no default network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.networks)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEndpoints_For(t *testing.T) {
	m, err := Default().Resolve("421614")
	require.NoError(t, err)

	t.Run("override by network id wins", func(t *testing.T) {
		e := Endpoints{Overrides: map[string]string{"421614": "https://custom", "arbitrum-sepolia": "https://by-name"}}
		assert.Equal(t, "https://custom", e.For(m))
	})

	t.Run("override by name", func(t *testing.T) {
		e := Endpoints{Overrides: map[string]string{"arbitrum-sepolia": "https://by-name"}}
		assert.Equal(t, "https://by-name", e.For(m))
	})

	t.Run("network default", func(t *testing.T) {
		assert.Equal(t, m.DefaultRPC, Endpoints{}.For(m))
	})

	t.Run("family fallback", func(t *testing.T) {
		bare := Metadata{ChainID: 5, Family: types.ChainTypeSolana}
		assert.Equal(t, "https://api.devnet.solana.com", Endpoints{}.For(bare))
	})
}

func TestIdentifier_UnmarshalJSON(t *testing.T) {
	var body struct {
		Chain Identifier `json:"chain_id"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"chain_id": 421614}`), &body))
	assert.Equal(t, Identifier("421614"), body.Chain)

	require.NoError(t, json.Unmarshal([]byte(`{"chain_id": "solana-devnet"}`), &body))
	assert.Equal(t, Identifier("solana-devnet"), body.Chain)

	assert.Error(t, json.Unmarshal([]byte(`{"chain_id": true}`), &body))
}
