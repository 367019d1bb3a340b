// Package chains holds the static table of supported networks and resolves
// the identifiers clients send (numeric chain ids or symbolic network names)
// to one canonical Metadata record.
package chains

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// ErrUnsupportedChain is returned for identifiers missing from the registry.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Metadata describes one supported network.
type Metadata struct {
	// ChainID is the numeric id used in requests. For EVM networks it is the
	// EIP-155 chain id, for Solana the provider's numeric network id.
	ChainID int64

	// NetworkID is the canonical network identifier sent to the custody provider.
	NetworkID string

	Name       string
	Family     types.ChainType
	DefaultRPC string
	Symbol     string
	Decimals   int

	// Default marks the network used when a family-level operation has no
	// explicit chain.
	Default bool
}

// IsEVM reports whether the network belongs to the EVM family.
func (m Metadata) IsEVM() bool {
	return m.Family == types.ChainTypeEVM
}

// Family fallbacks, used when neither an override nor DefaultRPC is set.
var familyFallbackRPC = map[types.ChainType]string{
	types.ChainTypeEVM:    "https://sepolia-rollup.arbitrum.io/rpc",
	types.ChainTypeSolana: "https://api.devnet.solana.com",
}

// DefaultNetworks is the fixed table loaded at process start.
func DefaultNetworks() []Metadata {
	return []Metadata{
		{ChainID: 1, NetworkID: "1", Name: "ethereum", Family: types.ChainTypeEVM, DefaultRPC: "https://ethereum-rpc.publicnode.com", Symbol: "ETH", Decimals: 18},
		{ChainID: 11155111, NetworkID: "11155111", Name: "sepolia", Family: types.ChainTypeEVM, DefaultRPC: "https://ethereum-sepolia-rpc.publicnode.com", Symbol: "ETH", Decimals: 18},
		{ChainID: 42161, NetworkID: "42161", Name: "arbitrum", Family: types.ChainTypeEVM, DefaultRPC: "https://arb1.arbitrum.io/rpc", Symbol: "ETH", Decimals: 18},
		{ChainID: 421614, NetworkID: "421614", Name: "arbitrum-sepolia", Family: types.ChainTypeEVM, DefaultRPC: "https://sepolia-rollup.arbitrum.io/rpc", Symbol: "ETH", Decimals: 18, Default: true},
		{ChainID: 8453, NetworkID: "8453", Name: "base", Family: types.ChainTypeEVM, DefaultRPC: "https://mainnet.base.org", Symbol: "ETH", Decimals: 18},
		{ChainID: 84532, NetworkID: "84532", Name: "base-sepolia", Family: types.ChainTypeEVM, DefaultRPC: "https://sepolia.base.org", Symbol: "ETH", Decimals: 18},
		{ChainID: 10, NetworkID: "10", Name: "optimism", Family: types.ChainTypeEVM, DefaultRPC: "https://mainnet.optimism.io", Symbol: "ETH", Decimals: 18},
		{ChainID: 137, NetworkID: "137", Name: "polygon", Family: types.ChainTypeEVM, DefaultRPC: "https://polygon-rpc.com", Symbol: "POL", Decimals: 18},
		{ChainID: 101, NetworkID: "101", Name: "solana-mainnet", Family: types.ChainTypeSolana, DefaultRPC: "https://api.mainnet-beta.solana.com", Symbol: "SOL", Decimals: 9},
		{ChainID: 102, NetworkID: "102", Name: "solana-testnet", Family: types.ChainTypeSolana, DefaultRPC: "https://api.testnet.solana.com", Symbol: "SOL", Decimals: 9},
		{ChainID: 103, NetworkID: "103", Name: "solana-devnet", Family: types.ChainTypeSolana, DefaultRPC: "https://api.devnet.solana.com", Symbol: "SOL", Decimals: 9, Default: true},
	}
}

// Registry is an immutable lookup table. Safe for concurrent use.
type Registry struct {
	byID     map[int64]Metadata
	byName   map[string]Metadata
	defaults map[types.ChainType]Metadata
	ordered  []int64
}

// NewRegistry builds a registry and rejects ambiguous tables: duplicate ids or
// names, unknown families, and families with zero or several defaults.
func NewRegistry(networks []Metadata) (*Registry, error) {
	r := &Registry{
		byID:     make(map[int64]Metadata, len(networks)),
		byName:   make(map[string]Metadata, len(networks)),
		defaults: make(map[types.ChainType]Metadata),
	}

	for _, m := range networks {
		if !m.Family.IsValid() {
			return nil, fmt.Errorf("network %q has unknown family %q", m.Name, m.Family)
		}
		if _, dup := r.byID[m.ChainID]; dup {
			return nil, fmt.Errorf("duplicate chain id %d", m.ChainID)
		}
		name := strings.ToLower(m.Name)
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate network name %q", m.Name)
		}
		if m.Default {
			if prev, dup := r.defaults[m.Family]; dup {
				return nil, fmt.Errorf("family %s has two default networks: %s and %s", m.Family, prev.Name, m.Name)
			}
			r.defaults[m.Family] = m
		}
		r.byID[m.ChainID] = m
		r.byName[name] = m
		r.ordered = append(r.ordered, m.ChainID)
	}

	for family := range familyFallbackRPC {
		if _, ok := r.defaults[family]; !ok && r.hasFamily(family) {
			return nil, fmt.Errorf("family %s has no default network", family)
		}
	}

	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i] < r.ordered[j] })
	return r, nil
}

// MustNewRegistry is NewRegistry for static tables.
func MustNewRegistry(networks []Metadata) *Registry {
	r, err := NewRegistry(networks)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns a registry over DefaultNetworks.
func Default() *Registry {
	return MustNewRegistry(DefaultNetworks())
}

func (r *Registry) hasFamily(family types.ChainType) bool {
	for _, m := range r.byID {
		if m.Family == family {
			return true
		}
	}
	return false
}

// Resolve normalizes identifier and returns its network. Accepted forms:
// decimal chain id ("421614"), hex chain id ("0x66eee") and network name
// ("arbitrum-sepolia"), case-insensitive.
func (r *Registry) Resolve(identifier string) (Metadata, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return Metadata{}, fmt.Errorf("%w: empty identifier", ErrUnsupportedChain)
	}

	if n, ok := parseNumericID(id); ok {
		if m, found := r.byID[n]; found {
			return m, nil
		}
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, identifier)
	}

	if m, found := r.byName[id]; found {
		return m, nil
	}
	return Metadata{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, identifier)
}

// IsSupported reports whether identifier resolves.
func (r *Registry) IsSupported(identifier string) bool {
	_, err := r.Resolve(identifier)
	return err == nil
}

// DefaultFor returns the default network of a family.
func (r *Registry) DefaultFor(family types.ChainType) (Metadata, error) {
	m, ok := r.defaults[family]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: no network for family %s", ErrUnsupportedChain, family)
	}
	return m, nil
}

// All returns every network ordered by chain id.
func (r *Registry) All() []Metadata {
	out := make([]Metadata, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.byID[id])
	}
	return out
}

func parseNumericID(id string) (int64, bool) {
	if strings.HasPrefix(id, "0x") {
		n, err := strconv.ParseInt(id[2:], 16, 64)
		return n, err == nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

// Identifier is a chain identifier as sent by clients. It unmarshals from a
// JSON number or string.
type Identifier string

// UnmarshalJSON accepts 421614 and "421614" alike.
func (i *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = Identifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chain identifier must be a number or string: %w", err)
	}
	*i = Identifier(n.String())
	return nil
}

// String returns the raw identifier.
func (i Identifier) String() string {
	return string(i)
}

// Endpoints selects RPC endpoints: explicit per-network override first, then
// the network's provider-suggested default, then the family fallback.
type Endpoints struct {
	// Overrides is keyed by network id or network name.
	Overrides map[string]string
}

// For returns the RPC URL to use for m.
func (e Endpoints) For(m Metadata) string {
	if url := e.Overrides[m.NetworkID]; url != "" {
		return url
	}
	if url := e.Overrides[m.Name]; url != "" {
		return url
	}
	if m.DefaultRPC != "" {
		return m.DefaultRPC
	}
	return familyFallbackRPC[m.Family]
}
