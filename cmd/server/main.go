package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/better-wallet/custody-wallets/internal/api"
	"github.com/better-wallet/custody-wallets/internal/app"
	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/config"
	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/internal/custody/evm"
	"github.com/better-wallet/custody-wallets/internal/custody/remote"
	solanacustody "github.com/better-wallet/custody-wallets/internal/custody/solana"
	"github.com/better-wallet/custody-wallets/internal/encryption"
	"github.com/better-wallet/custody-wallets/internal/eth"
	"github.com/better-wallet/custody-wallets/internal/logger"
	"github.com/better-wallet/custody-wallets/internal/metrics"
	"github.com/better-wallet/custody-wallets/internal/middleware"
	"github.com/better-wallet/custody-wallets/internal/storage"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.LogFormat, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := storage.New(ctx, cfg.PostgresDSN, storage.PoolConfig{MaxConns: cfg.DBMaxConns})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	provider, err := encryption.NewProvider(ctx, &encryption.ProviderConfig{
		Provider:        cfg.EncryptionProvider,
		LocalKey:        cfg.EncryptionKey,
		AWSKMSKeyID:     cfg.KMSAWSKeyID,
		AWSKMSRegion:    cfg.KMSAWSRegion,
		VaultAddress:    cfg.KMSVaultAddress,
		VaultToken:      cfg.KMSVaultToken,
		VaultTransitKey: cfg.KMSVaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize share encryption", "error", err)
		os.Exit(1)
	}
	cipher := encryption.NewService(provider)

	slog.Info("initialized share encryption", "provider", cipher.Provider())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := chains.Default()
	endpoints := chains.Endpoints{Overrides: cfg.RPCURLs}
	ethPool := eth.NewPool(cfg.RPCTimeout())
	defer ethPool.Close()

	factory := custody.NewFactory(registry)
	for _, family := range []types.ChainType{types.ChainTypeEVM, types.ChainTypeSolana} {
		factory.Register(family, newCreator(cfg, family, m, ethPool, endpoints))
	}

	policy := custody.Policy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		BaseDelay:    cfg.RetryBaseDelay(),
		MaxDelay:     cfg.RetryMaxDelay(),
		RetryNetwork: cfg.RetryNetworkErrors,
		OnRetry:      m.ObserveRetry,
	}

	walletService := app.NewWalletService(
		registry,
		storage.NewKeyShareRepository(store),
		cipher,
		factory,
		policy,
		m,
	)
	walletService.UseTransferLog(storage.NewTransactionRepository(store))

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)
	go rateLimiter.Run(ctx)

	server := api.NewServer(walletService, store, api.Options{
		Port:        cfg.Port,
		Metrics:     m.Handler(),
		Observer:    m,
		RateLimiter: rateLimiter,
	})

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case <-ctx.Done():
		slog.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

// newCreator builds the lazy, authenticated client constructor for family.
func newCreator(cfg *config.Config, family types.ChainType, m *metrics.Metrics, ethPool *eth.Pool, endpoints chains.Endpoints) custody.Creator {
	return func(ctx context.Context) (custody.Client, error) {
		provider, err := remote.New(family, remote.Config{
			BaseURL:       cfg.CustodyAPIURL,
			EnvironmentID: cfg.CustodyEnvironmentID,
			Timeout:       cfg.CustodyTimeout(),
		})
		if err != nil {
			return nil, err
		}

		base := custody.NewBase(family, provider, custody.BaseConfig{
			RPS:      cfg.CustodyRPS,
			Burst:    cfg.CustodyBurst,
			Observer: m,
		})
		if err := base.Authenticate(ctx, cfg.CustodyAuthToken); err != nil {
			return nil, err
		}

		if family == types.ChainTypeSolana {
			return solanacustody.New(base, endpoints, solanacustody.Config{
				RPCTimeout:     cfg.RPCTimeout(),
				ConfirmTimeout: cfg.SolanaConfirmTimeout(),
			}), nil
		}
		return evm.New(base, ethPool, endpoints), nil
	}
}
