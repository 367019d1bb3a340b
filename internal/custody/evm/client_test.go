package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/internal/eth"
	"github.com/better-wallet/custody-wallets/pkg/types"
	"github.com/better-wallet/custody-wallets/tests/helpers"
	"github.com/better-wallet/custody-wallets/tests/mocks"
)

type fixture struct {
	client   *Client
	provider *mocks.MockCustodyProvider
	rpc      *helpers.RPCServer
	chain    chains.Metadata
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chain, err := chains.Default().Resolve("421614")
	require.NoError(t, err)

	balance, ok := new(big.Int).SetString("2500000000000000000", 10)
	require.True(t, ok)
	rpc := helpers.NewRPCServer(t, helpers.EVMHandlers(chain.ChainID, balance))

	provider := mocks.NewMockCustodyProvider(types.ChainTypeEVM)
	base := custody.NewBase(types.ChainTypeEVM, provider, custody.BaseConfig{})
	endpoints := chains.Endpoints{Overrides: map[string]string{chain.NetworkID: rpc.URL}}

	pool := eth.NewPool(time.Second)
	t.Cleanup(pool.Close)

	return &fixture{
		client:   New(base, pool, endpoints),
		provider: provider,
		rpc:      rpc,
		chain:    chain,
	}
}

func TestClient_GetBalance(t *testing.T) {
	f := newFixture(t)

	bal, err := f.client.GetBalance(helpers.NewTestContext(t), f.chain, f.provider.Address())
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.Amount)
	assert.Equal(t, "ETH", bal.Symbol)
	assert.Equal(t, 18, bal.Decimals)
	assert.Equal(t, 1, f.rpc.Calls("eth_getBalance"))
}

func TestClient_GetBalanceRejectsBadAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetBalance(context.Background(), f.chain, "not-an-address")
	assert.ErrorIs(t, err, custody.ErrInvalidRequest)
	assert.Zero(t, f.rpc.Calls("eth_getBalance"))
}

func TestClient_SignMessageVerifiesRecovery(t *testing.T) {
	f := newFixture(t)
	message := []byte("hello custody")

	sig, err := f.client.SignMessage(context.Background(), custody.SignMessageParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		Message: message,
	})
	require.NoError(t, err)

	raw, err := hexutil.Decode(sig.Signature)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.GreaterOrEqual(t, raw[64], byte(27))

	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message), raw)
	require.NoError(t, err)
	assert.Equal(t, f.provider.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestClient_SignMessageRejectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	f.provider.WrongSigner = true

	_, err := f.client.SignMessage(context.Background(), custody.SignMessageParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		Message: []byte("hello"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSignerMismatch)
	assert.Equal(t, custody.KindUnknown, custody.KindOf(err))
}

func TestClient_SendTransaction(t *testing.T) {
	f := newFixture(t)
	to := helpers.RandomAddress()

	res, err := f.client.SendTransaction(helpers.NewTestContext(t), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      to,
		Amount:  "0.01",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Hash, "0x"))

	sent := f.rpc.Params("eth_sendRawTransaction")
	require.Len(t, sent, 1)

	var params []string
	require.NoError(t, json.Unmarshal(sent[0], &params))
	rawTx, err := hexutil.Decode(params[0])
	require.NoError(t, err)

	var tx ethtypes.Transaction
	require.NoError(t, tx.UnmarshalBinary(rawTx))

	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, big.NewInt(421614), tx.ChainId())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, common.HexToAddress(to), *tx.To())
	assert.Equal(t, "10000000000000000", tx.Value().String())
	assert.Equal(t, big.NewInt(1_000_000_000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(3_000_000_000), tx.GasFeeCap())
	assert.Equal(t, res.Hash, tx.Hash().Hex())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), &tx)
	require.NoError(t, err)
	assert.Equal(t, f.provider.Address(), sender.Hex())
	assert.Equal(t, 1, f.provider.Calls("sign_transaction"))
}

func TestClient_SendTransactionValidatesBeforeUpstream(t *testing.T) {
	tests := []struct {
		name   string
		to     string
		amount string
	}{
		{name: "bad recipient", to: "0x123", amount: "1"},
		{name: "bad amount", to: helpers.RandomAddress(), amount: "one"},
		{name: "negative amount", to: helpers.RandomAddress(), amount: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
				Chain:   f.chain,
				Address: f.provider.Address(),
				To:      tt.to,
				Amount:  tt.amount,
			})
			assert.ErrorIs(t, err, custody.ErrInvalidRequest)
			assert.Zero(t, f.provider.Calls("sign_transaction"))
			assert.Zero(t, f.rpc.Calls("eth_sendRawTransaction"))
		})
	}
}

func TestClient_SendTransactionRejectsWrongSigner(t *testing.T) {
	f := newFixture(t)
	f.provider.WrongSigner = true

	_, err := f.client.SendTransaction(context.Background(), custody.SendParams{
		Chain:   f.chain,
		Address: f.provider.Address(),
		To:      helpers.RandomAddress(),
		Amount:  "0.01",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSignerMismatch)
	assert.Zero(t, f.rpc.Calls("eth_sendRawTransaction"))
}

func TestClient_RPCFailureIsClassified(t *testing.T) {
	f := newFixture(t)
	f.rpc.Handle("eth_getBalance", func(json.RawMessage) (any, *helpers.RPCError) {
		return nil, &helpers.RPCError{Code: -32005, Message: "Too Many Requests"}
	})

	_, err := f.client.GetBalance(context.Background(), f.chain, f.provider.Address())
	ce, ok := custody.AsError(err)
	require.True(t, ok)
	assert.Equal(t, custody.KindRateLimited, ce.Kind)
	assert.Equal(t, custody.OpGetBalance, ce.Op)
}

func TestNormalizeV(t *testing.T) {
	sig := make([]byte, 65)

	sig[64] = 28
	out, err := normalizeV(sig)
	require.NoError(t, err)
	assert.Equal(t, byte(1), out[64])
	assert.Equal(t, byte(28), sig[64])

	sig[64] = 5
	_, err = normalizeV(sig)
	assert.Error(t, err)

	_, err = normalizeV(sig[:64])
	assert.Error(t, err)
}
