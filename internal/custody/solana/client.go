// Package solana is the account-model custody client. Transfers are native
// system-program instructions; the message bytes are signed by the custody
// provider and the transaction is only reported once the cluster confirms it.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

var (
	errSignerMismatch     = errors.New("remote signature does not verify against the wallet public key")
	errTransactionFailed  = errors.New("transaction failed on chain")
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultRPCTimeout     = 15 * time.Second
)

// Config tunes RPC and confirmation behavior.
type Config struct {
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements custody.Client for Solana clusters.
type Client struct {
	*custody.Base
	endpoints chains.Endpoints
	cfg       Config

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// New creates a Solana client. base must be bound to types.ChainTypeSolana.
func New(base *custody.Base, endpoints chains.Endpoints, cfg Config) *Client {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{
		Base:      base,
		endpoints: endpoints,
		cfg:       cfg,
		clients:   make(map[string]*rpc.Client),
	}
}

func (c *Client) rpcFor(chain chains.Metadata) (*rpc.Client, error) {
	if chain.Family != types.ChainTypeSolana {
		return nil, fmt.Errorf("%w: %s is not a Solana network", custody.ErrInvalidRequest, chain.Name)
	}
	url := c.endpoints.For(chain)

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[url]; ok {
		return client, nil
	}
	client := rpc.New(url)
	c.clients[url] = client
	return client, nil
}

// GetBalance returns the lamport balance of address on chain.
func (c *Client) GetBalance(ctx context.Context, chain chains.Metadata, address string) (*types.Balance, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Solana address", custody.ErrInvalidRequest)
	}
	client, err := c.rpcFor(chain)
	if err != nil {
		return nil, err
	}

	var lamports uint64
	err = c.Call(ctx, custody.OpGetBalance, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()

		res, err := client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get balance: %w", err)
		}
		lamports = res.Value
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw := new(big.Int).SetUint64(lamports)
	return &types.Balance{
		Address:  owner.String(),
		Amount:   chain.FormatAmount(raw),
		Symbol:   chain.Symbol,
		Decimals: chain.Decimals,
		Raw:      raw,
	}, nil
}

// SignMessage obtains an ed25519 signature over the raw message and verifies
// it against the wallet public key.
func (c *Client) SignMessage(ctx context.Context, params custody.SignMessageParams) (*custody.Signature, error) {
	owner, err := solana.PublicKeyFromBase58(params.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Solana address", custody.ErrInvalidRequest)
	}

	raw, err := c.RemoteSignMessage(ctx, params.Chain.NetworkID, params.Address, params.Shares, params.Message)
	if err != nil {
		return nil, err
	}

	sig, err := verify(owner, params.Message, raw)
	if err != nil {
		return nil, c.invalid(custody.OpSignMessage, err)
	}
	return &custody.Signature{Signature: sig.String()}, nil
}

// SendTransaction transfers lamports, waits for confirmation and returns the
// transaction signature.
func (c *Client) SendTransaction(ctx context.Context, params custody.SendParams) (*custody.TxResult, error) {
	from, err := solana.PublicKeyFromBase58(params.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Solana address", custody.ErrInvalidRequest)
	}
	to, err := solana.PublicKeyFromBase58(params.To)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid recipient address", custody.ErrInvalidRequest)
	}
	amount, err := params.Chain.ParseAmount(params.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", custody.ErrInvalidRequest, err)
	}
	if !amount.IsUint64() {
		return nil, fmt.Errorf("%w: amount exceeds lamport range", custody.ErrInvalidRequest)
	}
	if len(params.Data) > 0 {
		return nil, fmt.Errorf("%w: data is not supported for Solana transfers", custody.ErrInvalidRequest)
	}

	client, err := c.rpcFor(params.Chain)
	if err != nil {
		return nil, err
	}

	var tx *solana.Transaction
	var message []byte
	err = c.Call(ctx, custody.OpPrepare, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()

		recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get recent blockhash: %w", err)
		}

		tx, err = solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(amount.Uint64(), from, to).Build()},
			recent.Value.Blockhash,
			solana.TransactionPayer(from),
		)
		if err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		message, err = tx.Message.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.RemoteSignTransaction(ctx, params.Chain.NetworkID, params.Address, params.Shares, message)
	if err != nil {
		return nil, err
	}
	sig, err := verify(from, message, raw)
	if err != nil {
		return nil, c.invalid(custody.OpSignTransaction, err)
	}
	tx.Signatures = []solana.Signature{sig}

	var sent solana.Signature
	err = c.Call(ctx, custody.OpBroadcast, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()

		var err error
		sent, err = client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentFinalized,
		})
		if err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = c.Call(ctx, custody.OpConfirm, func(ctx context.Context) error {
		return c.awaitConfirmation(ctx, client, sent)
	})
	if err != nil {
		return nil, err
	}

	return &custody.TxResult{Hash: sent.String()}, nil
}

// awaitConfirmation polls the signature status until the cluster reports it
// confirmed or finalized, the transaction fails, or ConfirmTimeout elapses.
func (c *Client) awaitConfirmation(ctx context.Context, client *rpc.Client, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %v", errTransactionFailed, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return errors.Join(fmt.Errorf("confirmation of %s timed out: %w", sig, err), ctx.Err())
			}
			return fmt.Errorf("confirmation of %s timed out: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// verify checks a 64-byte ed25519 signature over msg.
func verify(owner solana.PublicKey, msg, raw []byte) (solana.Signature, error) {
	if len(raw) != solana.SignatureLength {
		return solana.Signature{}, fmt.Errorf("remote signature has %d bytes, want %d", len(raw), solana.SignatureLength)
	}
	sig := solana.SignatureFromBytes(raw)
	if !sig.Verify(owner, msg) {
		return solana.Signature{}, errSignerMismatch
	}
	return sig, nil
}

func (c *Client) invalid(op string, err error) error {
	return &custody.Error{
		Kind:   custody.KindUnknown,
		Status: custody.KindUnknown.Status(),
		Op:     op,
		Family: c.Family(),
		Err:    err,
	}
}

var _ custody.Client = (*Client)(nil)
