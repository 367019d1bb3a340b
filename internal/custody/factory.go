package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// Creator builds and authenticates the client for one family.
type Creator func(ctx context.Context) (Client, error)

// Factory resolves chain identifiers to family clients. Each family's client
// is created and authenticated at most once; a failed creation is not cached,
// so the next call tries again while other families stay usable.
type Factory struct {
	registry *chains.Registry
	creators map[types.ChainType]Creator
	entries  map[types.ChainType]*entry
}

type entry struct {
	mu     sync.Mutex
	client Client
}

// NewFactory creates a factory over registry.
func NewFactory(registry *chains.Registry) *Factory {
	return &Factory{
		registry: registry,
		creators: make(map[types.ChainType]Creator),
		entries:  make(map[types.ChainType]*entry),
	}
}

// Register adds the creator for family. Call before the factory is shared.
func (f *Factory) Register(family types.ChainType, creator Creator) {
	f.creators[family] = creator
	f.entries[family] = &entry{}
}

// Get returns the client serving chainIdentifier's family.
func (f *Factory) Get(ctx context.Context, chainIdentifier string) (Client, error) {
	meta, err := f.registry.Resolve(chainIdentifier)
	if err != nil {
		return nil, err
	}
	return f.ForFamily(ctx, meta.Family)
}

// ForFamily returns the cached client for family, creating it on first use.
func (f *Factory) ForFamily(ctx context.Context, family types.ChainType) (Client, error) {
	e, ok := f.entries[family]
	if !ok {
		return nil, fmt.Errorf("%w: no custody client for %s", chains.ErrUnsupportedChain, family)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := f.creators[family](ctx)
	if err != nil {
		return nil, Wrap(err, family, OpAuthenticate)
	}
	e.client = client
	return client, nil
}

// Families lists the registered families.
func (f *Factory) Families() []types.ChainType {
	out := make([]types.ChainType, 0, len(f.creators))
	for family := range f.creators {
		out = append(out, family)
	}
	return out
}
