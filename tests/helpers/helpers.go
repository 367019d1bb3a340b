// Package helpers provides common test utilities for the custody-wallets test suite.
package helpers

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// NewTestContext creates a context with timeout for tests.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertErrorResponse checks that an HTTP response is an error with expected status.
func AssertErrorResponse(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	require.Equal(t, expectedStatus, resp.Code,
		"Expected status %d, got %d. Body: %s",
		expectedStatus, resp.Code, resp.Body.String())
}

// AssertSuccessResponse checks that an HTTP response is successful (2xx).
func AssertSuccessResponse(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()
	require.True(t, resp.Code >= 200 && resp.Code < 300,
		"Expected success status (2xx), got %d. Body: %s",
		resp.Code, resp.Body.String())
}

// AssertNoSensitiveData fails if s contains any of secrets or a marker that
// shares, ciphertext or configuration leaked into a response.
func AssertNoSensitiveData(t *testing.T, s string, secrets ...string) {
	t.Helper()

	lowered := strings.ToLower(s)
	for _, pattern := range []string{"ks1:", "encrypted_shares", "stack", "_token", "share_encryption"} {
		require.NotContains(t, lowered, pattern)
	}
	for _, secret := range secrets {
		if secret != "" {
			require.NotContains(t, s, secret)
		}
	}
}

// RandomAddress generates a random Ethereum-like address.
func RandomAddress() string {
	bytes := make([]byte, 20)
	_, _ = rand.Read(bytes)
	return fmt.Sprintf("0x%x", bytes)
}

// HexBig renders v as a JSON-RPC quantity.
func HexBig(v *big.Int) string {
	return "0x" + v.Text(16)
}

// HexUint renders v as a JSON-RPC quantity.
func HexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

// EVMHandlers returns a minimal EIP-1559 capable EVM node: fixed chain id,
// balance, nonce, gas estimate, tip, base fee, and a raw-tx sink whose
// payloads are available through RPCServer.Params("eth_sendRawTransaction").
func EVMHandlers(chainID int64, balance *big.Int) map[string]RPCHandler {
	zeroHash := "0x" + strings.Repeat("0", 64)
	header := map[string]any{
		"parentHash":       zeroHash,
		"sha3Uncles":       zeroHash,
		"miner":            "0x" + strings.Repeat("0", 40),
		"stateRoot":        zeroHash,
		"transactionsRoot": zeroHash,
		"receiptsRoot":     zeroHash,
		"logsBloom":        "0x" + strings.Repeat("0", 512),
		"difficulty":       "0x0",
		"number":           "0x10",
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x0",
		"timestamp":        "0x6553f100",
		"extraData":        "0x",
		"mixHash":          zeroHash,
		"nonce":            "0x0000000000000000",
		"baseFeePerGas":    "0x3b9aca00",
		"hash":             zeroHash,
	}

	return map[string]RPCHandler{
		"eth_chainId":              Static(HexUint(uint64(chainID))),
		"eth_getBalance":           Static(HexBig(balance)),
		"eth_getTransactionCount":  Static("0x7"),
		"eth_estimateGas":          Static("0x5208"),
		"eth_maxPriorityFeePerGas": Static("0x3b9aca00"),
		"eth_gasPrice":             Static("0x77359400"),
		"eth_getBlockByNumber":     Static(header),
		"eth_sendRawTransaction":   Static(zeroHash),
	}
}
