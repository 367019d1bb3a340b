// Package evm is the EVM family custody client. Transactions are built
// locally with go-ethereum; the signature over the signer hash comes from the
// custody provider, so no private key ever exists in this process.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/internal/eth"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

var errSignerMismatch = errors.New("remote signature does not recover the wallet address")

// Client implements custody.Client for EVM networks.
type Client struct {
	*custody.Base
	pool      *eth.Pool
	endpoints chains.Endpoints
}

// New creates an EVM client. base must be bound to types.ChainTypeEVM.
func New(base *custody.Base, pool *eth.Pool, endpoints chains.Endpoints) *Client {
	return &Client{
		Base:      base,
		pool:      pool,
		endpoints: endpoints,
	}
}

func (c *Client) rpc(ctx context.Context, chain chains.Metadata) (*eth.Client, error) {
	if !chain.IsEVM() {
		return nil, fmt.Errorf("%w: %s is not an EVM network", custody.ErrInvalidRequest, chain.Name)
	}
	return c.pool.Get(ctx, c.endpoints.For(chain))
}

// GetBalance returns the native balance of address on chain.
func (c *Client) GetBalance(ctx context.Context, chain chains.Metadata, address string) (*types.Balance, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: invalid EVM address", custody.ErrInvalidRequest)
	}

	var wei *big.Int
	err := c.Call(ctx, custody.OpGetBalance, func(ctx context.Context) error {
		rpc, err := c.rpc(ctx, chain)
		if err != nil {
			return err
		}
		wei, err = rpc.GetBalance(ctx, address)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &types.Balance{
		Address:  common.HexToAddress(address).Hex(),
		Amount:   chain.FormatAmount(wei),
		Symbol:   chain.Symbol,
		Decimals: chain.Decimals,
		Raw:      wei,
	}, nil
}

// SignMessage obtains an EIP-191 personal signature from the provider and
// checks that it recovers to the wallet address.
func (c *Client) SignMessage(ctx context.Context, params custody.SignMessageParams) (*custody.Signature, error) {
	if !common.IsHexAddress(params.Address) {
		return nil, fmt.Errorf("%w: invalid EVM address", custody.ErrInvalidRequest)
	}

	sig, err := c.RemoteSignMessage(ctx, params.Chain.NetworkID, params.Address, params.Shares, params.Message)
	if err != nil {
		return nil, err
	}

	recoverable, err := normalizeV(sig)
	if err != nil {
		return nil, c.invalid(custody.OpSignMessage, err)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(params.Message), recoverable)
	if err != nil || crypto.PubkeyToAddress(*pub) != common.HexToAddress(params.Address) {
		return nil, c.invalid(custody.OpSignMessage, errSignerMismatch)
	}

	// personal_sign convention: V in {27, 28}.
	out := append([]byte(nil), recoverable...)
	out[crypto.RecoveryIDOffset] += 27
	return &custody.Signature{Signature: hexutil.Encode(out)}, nil
}

// SendTransaction builds an EIP-1559 transfer, has the provider sign its
// signer hash, and broadcasts it.
func (c *Client) SendTransaction(ctx context.Context, params custody.SendParams) (*custody.TxResult, error) {
	if !common.IsHexAddress(params.Address) {
		return nil, fmt.Errorf("%w: invalid EVM address", custody.ErrInvalidRequest)
	}
	if !common.IsHexAddress(params.To) {
		return nil, fmt.Errorf("%w: invalid recipient address", custody.ErrInvalidRequest)
	}
	value, err := params.Chain.ParseAmount(params.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", custody.ErrInvalidRequest, err)
	}

	from := common.HexToAddress(params.Address)
	to := common.HexToAddress(params.To)
	chainID := big.NewInt(params.Chain.ChainID)

	var rpc *eth.Client
	var unsigned *ethtypes.Transaction
	err = c.Call(ctx, custody.OpPrepare, func(ctx context.Context) error {
		var err error
		rpc, err = c.rpc(ctx, params.Chain)
		if err != nil {
			return err
		}
		unsigned, err = buildTransaction(ctx, rpc, chainID, from, to, value, params.Data)
		return err
	})
	if err != nil {
		return nil, err
	}

	signer := ethtypes.LatestSignerForChainID(chainID)
	sig, err := c.RemoteSignTransaction(ctx, params.Chain.NetworkID, params.Address, params.Shares, signer.Hash(unsigned).Bytes())
	if err != nil {
		return nil, err
	}

	signed, err := applySignature(signer, unsigned, sig, from)
	if err != nil {
		return nil, c.invalid(custody.OpSignTransaction, err)
	}

	var hash string
	err = c.Call(ctx, custody.OpBroadcast, func(ctx context.Context) error {
		var err error
		hash, err = rpc.SendRawTransaction(ctx, signed)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &custody.TxResult{Hash: hash}, nil
}

// buildTransaction fills nonce, fees and gas from the node.
func buildTransaction(ctx context.Context, rpc *eth.Client, chainID *big.Int, from, to common.Address, value *big.Int, data []byte) (*ethtypes.Transaction, error) {
	nonce, err := rpc.GetNonce(ctx, from.Hex())
	if err != nil {
		return nil, err
	}

	tip, err := rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}

	baseFee, err := rpc.LatestBaseFee(ctx)
	if err != nil {
		return nil, err
	}

	// feeCap = 2*baseFee + tip
	feeCap := new(big.Int).Set(tip)
	if baseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(baseFee, big.NewInt(2)))
	} else {
		feeCap.Mul(feeCap, big.NewInt(2))
	}

	gas, err := rpc.EstimateGas(ctx, from.Hex(), to.Hex(), value, data)
	if err != nil {
		return nil, err
	}

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

// applySignature attaches a remote signature and checks the sender.
func applySignature(signer ethtypes.Signer, tx *ethtypes.Transaction, sig []byte, from common.Address) (*ethtypes.Transaction, error) {
	recoverable, err := normalizeV(sig)
	if err != nil {
		return nil, err
	}

	signed, err := tx.WithSignature(signer, recoverable)
	if err != nil {
		return nil, fmt.Errorf("failed to apply remote signature: %w", err)
	}

	sender, err := ethtypes.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	if sender != from {
		return nil, errSignerMismatch
	}
	return signed, nil
}

// normalizeV returns a copy of a 65-byte [R || S || V] signature with V in {0, 1}.
func normalizeV(sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("remote signature has %d bytes, want %d", len(sig), crypto.SignatureLength)
	}
	out := append([]byte(nil), sig...)
	if out[crypto.RecoveryIDOffset] >= 27 {
		out[crypto.RecoveryIDOffset] -= 27
	}
	if out[crypto.RecoveryIDOffset] > 1 {
		return nil, fmt.Errorf("remote signature has invalid recovery id %d", out[crypto.RecoveryIDOffset])
	}
	return out, nil
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
