package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// Observer receives one event per custody or chain call. outcome is "ok" or
// the failure Kind.
type Observer interface {
	ObserveCall(family, op, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, string, time.Duration) {}

// BaseConfig tunes the shared call path of a family client.
type BaseConfig struct {
	// RPS and Burst size the outbound token bucket. RPS <= 0 disables it.
	RPS   float64
	Burst int

	Observer Observer
}

// Base is the family-independent half of a Client: it throttles, times and
// classifies every call and owns the provider requests that look the same
// for every family. Family clients embed it.
type Base struct {
	family   types.ChainType
	provider Provider
	limiter  *rate.Limiter
	observer Observer
}

// NewBase binds provider to family.
func NewBase(family types.ChainType, provider Provider, cfg BaseConfig) *Base {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Base{
		family:   family,
		provider: provider,
		limiter:  limiter,
		observer: observer,
	}
}

// Family returns the chain family this client serves.
func (b *Base) Family() types.ChainType {
	return b.family
}

// Call waits for the throttle, runs fn and returns its error classified.
func (b *Base) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		ce := &Error{
			Kind:   KindRateLimited,
			Status: KindRateLimited.Status(),
			Op:     op,
			Family: b.family,
			Err:    fmt.Errorf("outbound throttle: %w", err),
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			ce.Kind, ce.Status = KindNetwork, KindNetwork.Status()
		}
		b.observer.ObserveCall(string(b.family), op, string(ce.Kind), 0)
		return ce
	}

	start := time.Now()
	err := Wrap(fn(ctx), b.family, op)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	b.observer.ObserveCall(string(b.family), op, outcome, time.Since(start))
	return err
}

// Authenticate exchanges the service credential for a provider session.
func (b *Base) Authenticate(ctx context.Context, credential string) error {
	return b.Call(ctx, OpAuthenticate, func(ctx context.Context) error {
		return b.provider.Authenticate(ctx, credential)
	})
}

// CreateWallet requests a 2-of-2 account without provider-side share backup,
// so the returned shares exist only with the caller.
func (b *Base) CreateWallet(ctx context.Context, params CreateWalletParams) (*CreatedWallet, error) {
	if params.Chain.Family != b.family {
		return nil, fmt.Errorf("%s client cannot create %s wallets", b.family, params.Chain.Family)
	}

	var created *CreatedWallet
	err := b.Call(ctx, OpCreateWallet, func(ctx context.Context) error {
		var err error
		created, err = b.provider.CreateWalletAccount(ctx, AccountRequest{
			Scheme:           types.ThresholdTwoOfTwo,
			BackUpToProvider: false,
			NetworkID:        params.Chain.NetworkID,
		})
		if err != nil {
			return err
		}
		if created == nil || created.Address == "" || len(created.Shares) == 0 {
			return &ProviderError{Message: "custody provider returned an incomplete wallet"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RemoteSignMessage asks the provider to sign message with shares.
func (b *Base) RemoteSignMessage(ctx context.Context, chain, address string, shares KeyShares, message []byte) ([]byte, error) {
	var sig []byte
	err := b.Call(ctx, OpSignMessage, func(ctx context.Context) error {
		var err error
		sig, err = b.provider.SignMessage(ctx, SignRequest{
			NetworkID: chain,
			Address:   address,
			Shares:    shares,
			Payload:   message,
		})
		return err
	})
	return sig, err
}

// RemoteSignTransaction asks the provider to sign a transaction preimage.
func (b *Base) RemoteSignTransaction(ctx context.Context, chain, address string, shares KeyShares, preimage []byte) ([]byte, error) {
	var sig []byte
	err := b.Call(ctx, OpSignTransaction, func(ctx context.Context) error {
		var err error
		sig, err = b.provider.SignTransaction(ctx, SignRequest{
			NetworkID: chain,
			Address:   address,
			Shares:    shares,
			Payload:   preimage,
		})
		return err
	})
	return sig, err
}
