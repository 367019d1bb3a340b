package mocks

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"

	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// MockCustodyProvider implements custody.Provider with real keys, so the
// signatures it returns verify like the provider's would.
type MockCustodyProvider struct {
	mu sync.Mutex

	family types.ChainType
	evmKey *ecdsa.PrivateKey
	solKey solana.PrivateKey

	// Failure injection. CreateErrs is consumed one entry per call.
	AuthErr    error
	CreateErrs []error
	SignErr    error

	// WrongSigner makes the provider sign with an unrelated key.
	WrongSigner bool

	accounts []custody.AccountRequest
	calls    map[string]int
}

// NewMockCustodyProvider creates a provider for family with a fresh key.
func NewMockCustodyProvider(family types.ChainType) *MockCustodyProvider {
	p := &MockCustodyProvider{
		family: family,
		calls:  make(map[string]int),
	}

	switch family {
	case types.ChainTypeEVM:
		key, err := crypto.GenerateKey()
		if err != nil {
			panic(fmt.Sprintf("generate evm key: %v", err))
		}
		p.evmKey = key
	case types.ChainTypeSolana:
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			panic(fmt.Sprintf("generate solana key: %v", err))
		}
		p.solKey = key
	}
	return p
}

// Address returns the wallet address this provider creates.
func (p *MockCustodyProvider) Address() string {
	if p.family == types.ChainTypeEVM {
		return crypto.PubkeyToAddress(p.evmKey.PublicKey).Hex()
	}
	return p.solKey.PublicKey().String()
}

// Calls returns the number of calls to method.
func (p *MockCustodyProvider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Accounts returns every account request received.
func (p *MockCustodyProvider) Accounts() []custody.AccountRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]custody.AccountRequest(nil), p.accounts...)
}

func (p *MockCustodyProvider) record(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
}

// Authenticate implements custody.Provider.
func (p *MockCustodyProvider) Authenticate(context.Context, string) error {
	p.record("authenticate")
	return p.AuthErr
}

// CreateWalletAccount implements custody.Provider.
func (p *MockCustodyProvider) CreateWalletAccount(_ context.Context, req custody.AccountRequest) (*custody.CreatedWallet, error) {
	p.mu.Lock()
	p.calls["create_wallet"]++
	p.accounts = append(p.accounts, req)
	var err error
	if len(p.CreateErrs) > 0 {
		err, p.CreateErrs = p.CreateErrs[0], p.CreateErrs[1:]
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &custody.CreatedWallet{
		Address: p.Address(),
		Shares: custody.KeyShares{
			json.RawMessage(`{"index":1,"share":"mock-share-1"}`),
			json.RawMessage(`{"index":2,"share":"mock-share-2"}`),
		},
	}, nil
}

// SignMessage implements custody.Provider.
func (p *MockCustodyProvider) SignMessage(_ context.Context, req custody.SignRequest) ([]byte, error) {
	p.record("sign_message")
	if p.SignErr != nil {
		return nil, p.SignErr
	}
	if p.family == types.ChainTypeEVM {
		return p.signEVM(accounts.TextHash(req.Payload), true)
	}
	return p.signSolana(req.Payload)
}

// SignTransaction implements custody.Provider.
func (p *MockCustodyProvider) SignTransaction(_ context.Context, req custody.SignRequest) ([]byte, error) {
	p.record("sign_transaction")
	if p.SignErr != nil {
		return nil, p.SignErr
	}
	if p.family == types.ChainTypeEVM {
		return p.signEVM(req.Payload, false)
	}
	return p.signSolana(req.Payload)
}

func (p *MockCustodyProvider) signEVM(hash []byte, legacyV bool) ([]byte, error) {
	key := p.evmKey
	if p.WrongSigner {
		other, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		key = other
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	if legacyV {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return sig, nil
}

func (p *MockCustodyProvider) signSolana(payload []byte) ([]byte, error) {
	key := p.solKey
	if p.WrongSigner {
		other, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, err
		}
		key = other
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return nil, err
	}
	return sig[:], nil
}

var _ custody.Provider = (*MockCustodyProvider)(nil)
