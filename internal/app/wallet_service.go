package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/internal/encryption"
	"github.com/better-wallet/custody-wallets/internal/logger"
	apperrors "github.com/better-wallet/custody-wallets/pkg/errors"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// provisionTimeout bounds a coalesced provisioning run, which is detached
// from any single caller's cancellation.
const provisionTimeout = 2 * time.Minute

// Provisioning outcomes reported to the Observer.
const (
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
)

// KeyShareStore persists encrypted key shares keyed by (address, chain type).
type KeyShareStore interface {
	Find(ctx context.Context, address string, chainType types.ChainType) (*types.KeyShareRecord, error)
	Upsert(ctx context.Context, address string, chainType types.ChainType, ciphertext string) error
	ListAll(ctx context.Context) ([]*types.KeyShareRecord, error)
}

// Cipher seals key shares before they are stored.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// ClientSource yields the authenticated custody client of a chain family.
type ClientSource interface {
	ForFamily(ctx context.Context, family types.ChainType) (custody.Client, error)
}

// Observer receives one provisioning outcome per executed provisioning run.
type Observer interface {
	ObserveProvision(family types.ChainType, outcome string)
}

// TransferLog records broadcast transfers. Recording is best effort: a
// transfer that reached the chain is never reported as failed because the
// log write failed.
type TransferLog interface {
	Record(ctx context.Context, t *types.Transfer) error
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*types.Transfer, error)
}

type nopObserver struct{}

func (nopObserver) ObserveProvision(types.ChainType, string) {}

// WalletService provisions custodial wallets and performs signing and
// sending with their stored key shares.
type WalletService struct {
	registry *chains.Registry
	store    KeyShareStore
	cipher   Cipher
	clients  ClientSource
	policy   custody.Policy
	observer Observer
	log      TransferLog

	inflight singleflight.Group
}

// NewWalletService creates a new wallet service. observer may be nil.
func NewWalletService(
	registry *chains.Registry,
	store KeyShareStore,
	cipher Cipher,
	clients ClientSource,
	policy custody.Policy,
	observer Observer,
) *WalletService {
	if observer == nil {
		observer = nopObserver{}
	}
	return &WalletService{
		registry: registry,
		store:    store,
		cipher:   cipher,
		clients:  clients,
		policy:   policy,
		observer: observer,
	}
}

// UseTransferLog enables transfer recording. Call before the service is shared.
func (s *WalletService) UseTransferLog(log TransferLog) {
	s.log = log
}

// SendRequest describes a native transfer from a custodial wallet.
type SendRequest struct {
	To     string
	Amount string
	Data   []byte
	// Chain selects the network; empty means the family's default network.
	Chain string
}

// provisioned is the shared result of one coalesced provisioning run.
// Exactly one caller observes IsNew.
type provisioned struct {
	view    types.WalletView
	claimed atomic.Bool
}

func (p *provisioned) claim() types.WalletView {
	view := p.view
	if view.IsNew && !p.claimed.CompareAndSwap(false, true) {
		view.IsNew = false
	}
	return view
}

// Provision returns the wallet of chainIdentifier's family, creating it with
// the custody provider the first time. Concurrent calls for one family in
// this process share a single run; calls from other processes converge
// through the store's primary key and the already_provisioned path.
func (s *WalletService) Provision(ctx context.Context, chainIdentifier string) (*types.WalletView, error) {
	chain, err := s.registry.Resolve(chainIdentifier)
	if err != nil {
		return nil, apperrors.UnsupportedChain(chainIdentifier)
	}

	ch := s.inflight.DoChan(chain.Family.String(), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return s.provision(runCtx, chain)
	})

	select {
	case <-ctx.Done():
		return nil, s.fail(ctx, "provision", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, s.fail(ctx, "provision", res.Err)
		}
		view := res.Val.(*provisioned).claim()
		view.NetworkID = chain.NetworkID
		return &view, nil
	}
}

func (s *WalletService) provision(ctx context.Context, chain chains.Metadata) (*provisioned, error) {
	existing, err := s.findFamily(ctx, chain.Family)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.observer.ObserveProvision(chain.Family, OutcomeExisting)
		return &provisioned{view: s.view(existing.Address, chain, false)}, nil
	}

	client, err := s.clients.ForFamily(ctx, chain.Family)
	if err != nil {
		s.observer.ObserveProvision(chain.Family, OutcomeFailed)
		return nil, err
	}

	created, err := custody.Retry(ctx, s.policy, func(ctx context.Context) (*custody.CreatedWallet, error) {
		return client.CreateWallet(ctx, custody.CreateWalletParams{Chain: chain})
	})
	if err != nil {
		return s.recoverExisting(ctx, chain, err)
	}

	address := CanonicalAddress(created.Address, chain.Family)
	if err := s.persist(ctx, address, chain.Family, created.Shares); err != nil {
		s.observer.ObserveProvision(chain.Family, OutcomeFailed)
		return nil, err
	}

	logger.Info(ctx, "wallet provisioned",
		"wallet_id", DeriveIdentity(address, chain.Family),
		"chain_type", chain.Family,
		"network_id", chain.NetworkID,
	)
	s.observer.ObserveProvision(chain.Family, OutcomeCreated)
	return &provisioned{view: s.view(address, chain, true)}, nil
}

// recoverExisting handles a failed creation. An already_provisioned rejection is
// resolved from the address the provider embedded, then from the store in
// case a concurrent run finished first; anything else is surfaced.
func (s *WalletService) recoverExisting(ctx context.Context, chain chains.Metadata, cause error) (*provisioned, error) {
	ce, ok := custody.AsError(cause)
	if !ok || ce.Kind != custody.KindAlreadyProvisioned {
		s.observer.ObserveProvision(chain.Family, OutcomeFailed)
		return nil, cause
	}

	if ce.ExistingAddress != "" {
		address := CanonicalAddress(ce.ExistingAddress, chain.Family)
		held, err := s.store.Find(ctx, address, chain.Family)
		if err != nil {
			s.observer.ObserveProvision(chain.Family, OutcomeFailed)
			return nil, errors.Join(cause, fmt.Errorf("failed to find key shares: %w", err))
		}
		logger.Warn(ctx, "custody provider reported an existing wallet",
			"chain_type", chain.Family, "source", "error_payload", "key_shares_held", held != nil)
		s.observer.ObserveProvision(chain.Family, OutcomeRecovered)
		return &provisioned{view: s.view(address, chain, false)}, nil
	}

	existing, err := s.findFamily(ctx, chain.Family)
	if err != nil {
		s.observer.ObserveProvision(chain.Family, OutcomeFailed)
		return nil, errors.Join(cause, err)
	}
	if existing != nil {
		logger.Warn(ctx, "custody provider reported an existing wallet",
			"chain_type", chain.Family, "source", "store")
		s.observer.ObserveProvision(chain.Family, OutcomeRecovered)
		return &provisioned{view: s.view(existing.Address, chain, false)}, nil
	}

	s.observer.ObserveProvision(chain.Family, OutcomeFailed)
	return nil, cause
}

func (s *WalletService) persist(ctx context.Context, address string, chainType types.ChainType, shares custody.KeyShares) error {
	plaintext, err := json.Marshal(shares)
	if err != nil {
		return fmt.Errorf("failed to encode key shares: %w", err)
	}
	defer clear(plaintext)

	ciphertext, err := s.cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt key shares: %w", err)
	}

	if err := s.store.Upsert(ctx, address, chainType, ciphertext); err != nil {
		return fmt.Errorf("failed to store key shares: %w", err)
	}
	return nil
}

// findFamily returns the oldest record of chainType. The address is not
// known before creation, so existence is checked per family.
func (s *WalletService) findFamily(ctx context.Context, chainType types.ChainType) (*types.KeyShareRecord, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list key shares: %w", err)
	}
	for _, rec := range records {
		if rec.ChainType == chainType {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *WalletService) view(address string, chain chains.Metadata, isNew bool) types.WalletView {
	return types.WalletView{
		ID:        DeriveIdentity(address, chain.Family),
		Address:   address,
		ChainType: chain.Family,
		NetworkID: chain.NetworkID,
		IsNew:     isNew,
	}
}

// ListWallets returns every wallet this service holds key shares for.
func (s *WalletService) ListWallets(ctx context.Context) ([]types.WalletView, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, s.fail(ctx, "list_wallets", fmt.Errorf("failed to list key shares: %w", err))
	}

	views := make([]types.WalletView, 0, len(records))
	for _, rec := range records {
		chain, err := s.registry.DefaultFor(rec.ChainType)
		if err != nil {
			continue
		}
		views = append(views, s.view(rec.Address, chain, false))
	}
	return views, nil
}

// GetWallet returns the wallet with the given derived identity.
func (s *WalletService) GetWallet(ctx context.Context, walletID string) (*types.WalletView, error) {
	rec, err := s.lookup(ctx, walletID)
	if err != nil {
		return nil, s.fail(ctx, "get_wallet", err)
	}
	chain, err := s.registry.DefaultFor(rec.ChainType)
	if err != nil {
		return nil, s.fail(ctx, "get_wallet", err)
	}
	view := s.view(rec.Address, chain, false)
	return &view, nil
}

// GetBalance reads the wallet's native balance on chainIdentifier, or on the
// family's default network when it is empty.
func (s *WalletService) GetBalance(ctx context.Context, walletID, chainIdentifier string) (*types.Balance, error) {
	rec, err := s.lookup(ctx, walletID)
	if err != nil {
		return nil, s.fail(ctx, "get_balance", err)
	}
	chain, err := s.chainFor(rec.ChainType, chainIdentifier)
	if err != nil {
		return nil, s.fail(ctx, "get_balance", err)
	}
	client, err := s.clients.ForFamily(ctx, rec.ChainType)
	if err != nil {
		return nil, s.fail(ctx, "get_balance", err)
	}

	bal, err := custody.Retry(ctx, s.policy, func(ctx context.Context) (*types.Balance, error) {
		return client.GetBalance(ctx, chain, rec.Address)
	})
	if err != nil {
		return nil, s.fail(ctx, "get_balance", err)
	}
	return bal, nil
}

// SignMessage has the custody provider co-sign message with the wallet's
// decrypted key shares.
func (s *WalletService) SignMessage(ctx context.Context, walletID string, message []byte, chainIdentifier string) (*custody.Signature, error) {
	rec, chain, client, shares, err := s.prepareSigning(ctx, walletID, chainIdentifier)
	if err != nil {
		return nil, s.fail(ctx, "sign_message", err)
	}

	sig, err := custody.Retry(ctx, s.policy, func(ctx context.Context) (*custody.Signature, error) {
		return client.SignMessage(ctx, custody.SignMessageParams{
			Chain:   chain,
			Address: rec.Address,
			Shares:  shares,
			Message: message,
		})
	})
	if err != nil {
		return nil, s.fail(ctx, "sign_message", err)
	}
	return sig, nil
}

// SendTransaction builds, co-signs and broadcasts a native transfer.
func (s *WalletService) SendTransaction(ctx context.Context, walletID string, req SendRequest) (*custody.TxResult, error) {
	if req.To == "" || req.Amount == "" {
		return nil, apperrors.BadRequest("to and amount are required")
	}

	rec, chain, client, shares, err := s.prepareSigning(ctx, walletID, req.Chain)
	if err != nil {
		return nil, s.fail(ctx, "send_transaction", err)
	}

	res, err := custody.Retry(ctx, s.policy, func(ctx context.Context) (*custody.TxResult, error) {
		return client.SendTransaction(ctx, custody.SendParams{
			Chain:   chain,
			Address: rec.Address,
			Shares:  shares,
			To:      req.To,
			Amount:  req.Amount,
			Data:    req.Data,
		})
	})
	if err != nil {
		return nil, s.fail(ctx, "send_transaction", err)
	}

	logger.Info(ctx, "transaction sent",
		"wallet_id", walletID,
		"chain_type", rec.ChainType,
		"network_id", chain.NetworkID,
		"transaction_hash", res.Hash,
	)
	s.recordTransfer(ctx, walletID, rec, chain, req, res.Hash)
	return res, nil
}

func (s *WalletService) recordTransfer(ctx context.Context, walletID string, rec *types.KeyShareRecord, chain chains.Metadata, req SendRequest, hash string) {
	if s.log == nil {
		return
	}
	err := s.log.Record(context.WithoutCancel(ctx), &types.Transfer{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Address:   rec.Address,
		ChainType: rec.ChainType,
		NetworkID: chain.NetworkID,
		To:        req.To,
		Amount:    req.Amount,
		HasData:   len(req.Data) > 0,
		TxHash:    hash,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn(ctx, "failed to record transfer",
			"wallet_id", walletID,
			"transaction_hash", hash,
			"error", err,
		)
	}
}

// ListTransfers returns the recorded transfers of a wallet, newest first.
func (s *WalletService) ListTransfers(ctx context.Context, walletID string, limit int) ([]*types.Transfer, error) {
	if _, err := s.lookup(ctx, walletID); err != nil {
		return nil, s.fail(ctx, "list_transfers", err)
	}
	if s.log == nil {
		return []*types.Transfer{}, nil
	}

	transfers, err := s.log.ListByWallet(ctx, walletID, limit)
	if err != nil {
		return nil, s.fail(ctx, "list_transfers", fmt.Errorf("failed to list transfers: %w", err))
	}
	if transfers == nil {
		transfers = []*types.Transfer{}
	}
	return transfers, nil
}

func (s *WalletService) prepareSigning(ctx context.Context, walletID, chainIdentifier string) (*types.KeyShareRecord, chains.Metadata, custody.Client, custody.KeyShares, error) {
	rec, err := s.lookup(ctx, walletID)
	if err != nil {
		return nil, chains.Metadata{}, nil, nil, err
	}
	chain, err := s.chainFor(rec.ChainType, chainIdentifier)
	if err != nil {
		return nil, chains.Metadata{}, nil, nil, err
	}
	shares, err := s.decryptShares(ctx, rec)
	if err != nil {
		return nil, chains.Metadata{}, nil, nil, err
	}
	client, err := s.clients.ForFamily(ctx, rec.ChainType)
	if err != nil {
		return nil, chains.Metadata{}, nil, nil, err
	}
	return rec, chain, client, shares, nil
}

// lookup finds the record whose derived identity is walletID.
func (s *WalletService) lookup(ctx context.Context, walletID string) (*types.KeyShareRecord, error) {
	if !validIdentity(walletID) {
		return nil, apperrors.BadRequest("invalid wallet id")
	}

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list key shares: %w", err)
	}
	for _, rec := range records {
		if DeriveIdentity(rec.Address, rec.ChainType) == walletID {
			return rec, nil
		}
	}
	return nil, apperrors.WalletNotFound(walletID)
}

func (s *WalletService) chainFor(chainType types.ChainType, identifier string) (chains.Metadata, error) {
	if identifier == "" {
		return s.registry.DefaultFor(chainType)
	}
	chain, err := s.registry.Resolve(identifier)
	if err != nil {
		return chains.Metadata{}, apperrors.UnsupportedChain(identifier)
	}
	if chain.Family != chainType {
		return chains.Metadata{}, apperrors.BadRequest(fmt.Sprintf("chain %s is not a %s network", identifier, chainType))
	}
	return chain, nil
}

func (s *WalletService) decryptShares(ctx context.Context, rec *types.KeyShareRecord) (custody.KeyShares, error) {
	plaintext, err := s.cipher.Decrypt(ctx, rec.EncryptedShares)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)

	var shares custody.KeyShares
	if err := json.Unmarshal(plaintext, &shares); err != nil {
		return nil, fmt.Errorf("%w: key shares are not valid JSON", encryption.ErrDecryption)
	}
	return shares, nil
}

// fail logs err with its classification and maps it to the boundary taxonomy.
func (s *WalletService) fail(ctx context.Context, op string, err error) error {
	appErr := toAppError(err)

	if ce, ok := custody.AsError(err); ok {
		logger.Error(ctx, "custody operation failed",
			"operation", op,
			"kind", ce.Kind,
			"family", ce.Family,
			"op", ce.Op,
			"status", ce.Status,
		)
		return appErr
	}

	if appErr.StatusCode >= 500 {
		logger.Error(ctx, "wallet operation failed", "operation", op, "code", appErr.Code, "error", err)
	}
	return appErr
}

// toAppError maps any service error to a boundary AppError. Messages are the
// fixed predefined strings; upstream text never reaches the caller.
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr
	}

	switch {
	case errors.Is(err, chains.ErrUnsupportedChain):
		return apperrors.ErrUnsupportedChain
	case errors.Is(err, custody.ErrInvalidRequest):
		return apperrors.BadRequest(invalidDetail(err))
	case errors.Is(err, encryption.ErrDecryption):
		return apperrors.ErrDecryption
	}

	if ce, ok := custody.AsError(err); ok {
		switch ce.Kind {
		case custody.KindAlreadyProvisioned:
			return apperrors.ErrAlreadyProvisioned
		case custody.KindAuthentication:
			return apperrors.ErrAuthenticationFailed
		case custody.KindRateLimited:
			appErr := *apperrors.ErrRateLimited
			if ce.RetryAfter > 0 {
				appErr.RetryAfterSeconds = int((ce.RetryAfter + time.Second - 1) / time.Second)
			}
			return &appErr
		case custody.KindNetwork:
			return apperrors.ErrUpstreamNetwork
		case custody.KindNotFound:
			return apperrors.ErrWalletNotFound
		case custody.KindForbidden:
			return apperrors.ErrForbidden
		default:
			return apperrors.ErrUnknownUpstream
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrUpstreamNetwork
	}
	return apperrors.ErrInternalError
}

// invalidDetail returns the validation message that follows the
// ErrInvalidRequest prefix.
func invalidDetail(err error) string {
	_, detail, found := strings.Cut(err.Error(), custody.ErrInvalidRequest.Error()+": ")
	if !found || detail == "" {
		return "invalid request"
	}
	return detail
}
