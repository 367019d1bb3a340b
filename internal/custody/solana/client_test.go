package solana

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
	"github.com/better-wallet/custody-wallets/tests/helpers"
	"github.com/better-wallet/custody-wallets/tests/mocks"
)

type fixture struct {
	client   *Client
	provider *mocks.MockCustodyProvider
	rpc      *helpers.RPCServer
	chain    chains.Metadata

	// statusCalls counts getSignatureStatuses polls.
	statusCalls atomic.Int32
}

func contextResult(value any) map[string]any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value":   value,
	}
}

func newFixture(t *testing.T, confirmAfter int32) *fixture {
	t.Helper()

	chain, err := chains.Default().Resolve("103")
	require.NoError(t, err)

	f := &fixture{chain: chain}
	blockhash := solana.Hash(sha256.Sum256([]byte("blockhash")))

	f.rpc = helpers.NewRPCServer(t, map[string]helpers.RPCHandler{
		"getBalance": helpers.Static(contextResult(1_500_000_000)),
		"getLatestBlockhash": helpers.Static(contextResult(map[string]any{
			"blockhash":            blockhash.String(),
			"lastValidBlockHeight": 100,
		})),
		"sendTransaction": func(params json.RawMessage) (any, *helpers.RPCError) {
			wire, err := decodeWireTx(params)
			if err != nil {
				return nil, &helpers.RPCError{Code: -32602, Message: err.Error()}
			}
			return solana.SignatureFromBytes(wire[1:65]).String(), nil
		},
		"getSignatureStatuses": func(json.RawMessage) (any, *helpers.RPCError) {
			n := f.statusCalls.Add(1)
			if confirmAfter < 0 || n < confirmAfter {
				return contextResult([]any{nil}), nil
			}
			return contextResult([]any{map[string]any{
				"slot":               2,
				"confirmations":      nil,
				"err":                nil,
				"confirmationStatus": "confirmed",
			}}), nil
		},
	})

	f.provider = mocks.NewMockCustodyProvider(types.ChainTypeSolana)
	base := custody.NewBase(types.ChainTypeSolana, f.provider, custody.BaseConfig{})
	endpoints := chains.Endpoints{Overrides: map[string]string{chain.NetworkID: f.rpc.URL}}

	f.client = New(base, endpoints, Config{
		RPCTimeout:     time.Second,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	return f
}

// decodeWireTx returns the serialized transaction from sendTransaction params.
func decodeWireTx(params json.RawMessage) ([]byte, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func randomPubkey(t *testing.T) string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey().String()
}

func TestClient_GetBalance(t *testing.T) {
	f := newFixture(t, 1)

	bal, err := f.client.GetBalance(helpers.NewTestContext(t), f.chain, f.provider.Address())
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.Amount)
	assert.Equal(t, "SOL", bal.Symbol)
	assert.Equal(t, 9, bal.Decimals)
	assert.Equal(t, uint64(1_500_000_000), bal.Raw.Uint64())
}

func TestClient_GetBalanceRejectsEVMAddress(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.client.GetBalance(context.Background(), f.chain, helpers.RandomAddress())
	assert.ErrorIs(t, err, custody.ErrInvalidRequest)
	assert.Zero(t, f.rpc.Calls("getBalance"))
}

func TestClient_SignMessage(t *testing.T) {
	f := newFixture(t, 1)
	message := []byte("hello solana")

	sig, err := f.client.SignMessage(context.Background(), custody.SignMessageParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		Message: message,
	})
	require.NoError(t, err)

	parsed, err := solana.SignatureFromBase58(sig.Signature)
	require.NoError(t, err)
	owner := solana.MustPublicKeyFromBase58(f.provider.Address())
	assert.True(t, parsed.Verify(owner, message))
}

func TestClient_SignMessageRejectsForeignSignature(t *testing.T) {
	f := newFixture(t, 1)
	f.provider.WrongSigner = true

	_, err := f.client.SignMessage(context.Background(), custody.SignMessageParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		Message: []byte("hello"),
	})
	assert.ErrorIs(t, err, errSignerMismatch)
}

func TestClient_SendTransactionAwaitsConfirmation(t *testing.T) {
	f := newFixture(t, 3)

	res, err := f.client.SendTransaction(helpers.NewTestContext(t), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      randomPubkey(t),
		Amount:  "0.25",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.statusCalls.Load(), int32(3))

	sent := f.rpc.Params("sendTransaction")
	require.Len(t, sent, 1)
	wire, err := decodeWireTx(sent[0])
	require.NoError(t, err)

	// compact-u16 signature count, one signature, then the message.
	require.Greater(t, len(wire), 65)
	assert.Equal(t, byte(1), wire[0])
	sig := solana.SignatureFromBytes(wire[1:65])
	owner := solana.MustPublicKeyFromBase58(f.provider.Address())
	assert.True(t, sig.Verify(owner, wire[65:]))
	assert.Equal(t, sig.String(), res.Hash)
}

func TestClient_SendTransactionConfirmTimeout(t *testing.T) {
	f := newFixture(t, -1)

	_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      randomPubkey(t),
		Amount:  "0.25",
	})
	ce, ok := custody.AsError(err)
	require.True(t, ok)
	assert.Equal(t, custody.OpConfirm, ce.Op)
	assert.Equal(t, custody.KindNetwork, ce.Kind)
	assert.Equal(t, 1, f.rpc.Calls("sendTransaction"))
}

func TestClient_SendTransactionRateLimitedConfirmIsNotResent(t *testing.T) {
	f := newFixture(t, -1)
	f.rpc.Handle("getSignatureStatuses", func(json.RawMessage) (any, *helpers.RPCError) {
		return nil, &helpers.RPCError{Code: 429, Message: "Too many requests for a specific RPC call"}
	})

	policy := custody.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	_, err := custody.Retry(context.Background(), policy, func(ctx context.Context) (*custody.TxResult, error) {
		return f.client.SendTransaction(ctx, custody.SendParams{
			Chain:   f.chain,
			Address: f.provider.Address(),
			To:      randomPubkey(t),
			Amount:  "0.25",
		})
	})

	ce, ok := custody.AsError(err)
	require.True(t, ok)
	assert.Equal(t, custody.OpConfirm, ce.Op)
	assert.Equal(t, custody.KindRateLimited, ce.Kind)
	assert.Equal(t, 1, f.rpc.Calls("sendTransaction"))
	assert.Equal(t, 1, f.provider.Calls("sign_transaction"))
}

func TestClient_SendTransactionFailedOnChain(t *testing.T) {
	f := newFixture(t, 1)
	f.rpc.Handle("getSignatureStatuses", helpers.Static(contextResult([]any{map[string]any{
		"slot":               2,
		"confirmations":      nil,
		"err":                map[string]any{"InstructionError": []any{0, "InsufficientFunds"}},
		"confirmationStatus": "processed",
	}})))

	_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      randomPubkey(t),
		Amount:  "0.25",
	})
	assert.ErrorIs(t, err, errTransactionFailed)
}

func TestClient_SendTransactionValidatesBeforeUpstream(t *testing.T) {
	tests := []struct {
		name   string
		to     string
		amount string
		data   []byte
	}{
		{name: "evm recipient", to: helpers.RandomAddress(), amount: "1"},
		{name: "too many decimals", to: "", amount: "0.0000000001"},
		{name: "call data", to: "", amount: "1", data: []byte{0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			to := tt.to
			if to == "" {
				to = randomPubkey(t)
			}
			_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
				Chain:   f.chain,
				Address: f.provider.Address(),
				To:      to,
				Amount:  tt.amount,
				Data:    tt.data,
			})
			assert.ErrorIs(t, err, custody.ErrInvalidRequest)
			assert.Zero(t, f.provider.Calls("sign_transaction"))
			assert.Zero(t, f.rpc.Calls("getLatestBlockhash"))
		})
	}
}

func TestClient_SendTransactionRejectsWrongSigner(t *testing.T) {
	f := newFixture(t, 1)
	f.provider.WrongSigner = true

	_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      randomPubkey(t),
		Amount:  "0.25",
	})
	assert.ErrorIs(t, err, errSignerMismatch)
	assert.Zero(t, f.rpc.Calls("sendTransaction"))
}
