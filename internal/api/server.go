// Package api exposes the wallet service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/better-wallet/custody-wallets/internal/logger"
	"github.com/better-wallet/custody-wallets/internal/middleware"
)

const healthTimeout = 2 * time.Second

// Server represents the HTTP server
type Server struct {
	port          int
	walletService WalletService
	store         Pinger
	metrics       http.Handler
	observer      middleware.RequestObserver
	rateLimiter   *middleware.RateLimiter
	httpServer    *http.Server
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Port        int
	Metrics     http.Handler
	Observer    middleware.RequestObserver
	RateLimiter *middleware.RateLimiter
}

// NewServer creates a new API server
func NewServer(walletService WalletService, store Pinger, opts Options) *Server {
	return &Server{
		port:          opts.Port,
		walletService: walletService,
		store:         store,
		metrics:       opts.Metrics,
		observer:      opts.Observer,
		rateLimiter:   opts.RateLimiter,
	}
}

// Handler builds the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("GET /v1/wallets", s.handleListWallets)
	mux.HandleFunc("POST /v1/wallets", s.handleProvisionWallet)
	mux.HandleFunc("GET /v1/wallets/{id}", s.handleGetWallet)
	mux.HandleFunc("GET /v1/wallets/{id}/balance", s.handleGetBalance)
	mux.HandleFunc("POST /v1/wallets/{id}/sign-message", s.handleSignMessage)
	mux.HandleFunc("POST /v1/wallets/{id}/send", s.handleSendTransaction)
	mux.HandleFunc("GET /v1/wallets/{id}/transactions", s.handleListTransfers)

	// Chain: RequestID -> Logging -> RateLimit -> LimitBody -> Routes
	chain := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Logging(s.observer)}
	if s.rateLimiter != nil {
		chain = append(chain, s.rateLimiter.Limit)
	}
	chain = append(chain, middleware.LimitBody)

	return middleware.Chain(mux, chain...)
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after a graceful Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Sends wait for Solana confirmation.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports whether the key-share store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			logger.Error(ctx, "health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
