package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCall("evm", custody.OpCreateWallet, "ok", 20*time.Millisecond)
	m.ObserveCall("evm", custody.OpCreateWallet, string(custody.KindRateLimited), time.Millisecond)
	m.ObserveCall("evm", custody.OpCreateWallet, "ok", time.Millisecond)
	m.ObserveRetry(1, custody.KindRateLimited, time.Second)
	m.ObserveProvision(types.ChainTypeSolana, "created")
	m.ObserveRequest("/v1/wallets", http.StatusCreated)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.custodyCalls.WithLabelValues("evm", custody.OpCreateWallet, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.custodyCalls.WithLabelValues("evm", custody.OpCreateWallet, "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.provisions.WithLabelValues("solana", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/wallets", "201")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveProvision(types.ChainTypeEVM, "existing")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `custody_wallets_wallets_provisions_total{chain_type="evm",outcome="existing"} 1`)
}

func TestNew_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
