package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Retry bounds accepted at startup.
const (
	MinRetryAttempts  = 1
	MaxRetryAttempts  = 10
	MaxRetryBaseDelay = 60000
	MaxRetryMaxDelay  = 300000
	MinEncryptionKey  = 32
)

// Config holds process configuration sourced from the environment.
type Config struct {
	// Database
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// Server
	Port int `envconfig:"PORT" default:"8080"`

	// Logging
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`

	// Key-share encryption
	EncryptionProvider string `envconfig:"SHARE_ENCRYPTION_PROVIDER" default:"local"`
	EncryptionKey      string `envconfig:"SHARE_ENCRYPTION_KEY"`
	KMSAWSKeyID        string `envconfig:"KMS_AWS_KEY_ID"`
	KMSAWSRegion       string `envconfig:"KMS_AWS_REGION"`
	KMSVaultAddress    string `envconfig:"KMS_VAULT_ADDRESS"`
	KMSVaultToken      string `envconfig:"KMS_VAULT_TOKEN"`
	KMSVaultTransitKey string `envconfig:"KMS_VAULT_TRANSIT_KEY"`

	// Custody provider
	CustodyAPIURL        string  `envconfig:"CUSTODY_API_URL" default:"https://api.custody.example.com"`
	CustodyEnvironmentID string  `envconfig:"CUSTODY_ENVIRONMENT_ID"`
	CustodyAuthToken     string  `envconfig:"CUSTODY_AUTH_TOKEN"`
	CustodyTimeoutMS     int     `envconfig:"CUSTODY_TIMEOUT_MS" default:"30000"`
	CustodyRPS           float64 `envconfig:"CUSTODY_RPS" default:"10"`
	CustodyBurst         int     `envconfig:"CUSTODY_BURST" default:"20"`

	// Chain RPC
	RPCTimeoutMS           int               `envconfig:"RPC_TIMEOUT_MS" default:"15000"`
	RPCURLs                map[string]string `envconfig:"RPC_URLS"`
	SolanaConfirmTimeoutMS int               `envconfig:"SOLANA_CONFIRM_TIMEOUT_MS" default:"60000"`

	// Retry
	RetryMaxAttempts   int  `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelayMS   int  `envconfig:"RETRY_BASE_DELAY_MS" default:"1000"`
	RetryMaxDelayMS    int  `envconfig:"RETRY_MAX_DELAY_MS" default:"10000"`
	RetryNetworkErrors bool `envconfig:"RETRY_NETWORK_ERRORS" default:"false"`

	// Inbound rate limiting
	RateLimitEnabled bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst   int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	switch c.EncryptionProvider {
	case "local", "":
		if len(c.EncryptionKey) < MinEncryptionKey {
			return fmt.Errorf("SHARE_ENCRYPTION_KEY must be at least %d bytes", MinEncryptionKey)
		}
	case "aws-kms":
		if c.KMSAWSKeyID == "" || c.KMSAWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when SHARE_ENCRYPTION_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when SHARE_ENCRYPTION_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("SHARE_ENCRYPTION_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.EncryptionProvider)
	}

	if c.CustodyAPIURL == "" {
		return fmt.Errorf("CUSTODY_API_URL is required")
	}
	if c.CustodyAuthToken == "" {
		return fmt.Errorf("CUSTODY_AUTH_TOKEN is required")
	}
	if c.CustodyTimeoutMS <= 0 {
		return fmt.Errorf("CUSTODY_TIMEOUT_MS must be positive, got: %d", c.CustodyTimeoutMS)
	}
	if c.CustodyRPS <= 0 || c.CustodyBurst <= 0 {
		return fmt.Errorf("CUSTODY_RPS and CUSTODY_BURST must be positive")
	}
	if c.RPCTimeoutMS <= 0 {
		return fmt.Errorf("RPC_TIMEOUT_MS must be positive, got: %d", c.RPCTimeoutMS)
	}
	if c.SolanaConfirmTimeoutMS <= 0 {
		return fmt.Errorf("SOLANA_CONFIRM_TIMEOUT_MS must be positive, got: %d", c.SolanaConfirmTimeoutMS)
	}

	if c.RetryMaxAttempts < MinRetryAttempts || c.RetryMaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be between %d and %d, got: %d", MinRetryAttempts, MaxRetryAttempts, c.RetryMaxAttempts)
	}
	if c.RetryBaseDelayMS < 1 || c.RetryBaseDelayMS > MaxRetryBaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY_MS must be between 1 and %d, got: %d", MaxRetryBaseDelay, c.RetryBaseDelayMS)
	}
	if c.RetryMaxDelayMS < 1 || c.RetryMaxDelayMS > MaxRetryMaxDelay {
		return fmt.Errorf("RETRY_MAX_DELAY_MS must be between 1 and %d, got: %d", MaxRetryMaxDelay, c.RetryMaxDelayMS)
	}
	if c.RetryMaxDelayMS < c.RetryBaseDelayMS {
		return fmt.Errorf("RETRY_MAX_DELAY_MS must not be less than RETRY_BASE_DELAY_MS")
	}

	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	return nil
}

// CustodyTimeout returns the per-call custody provider timeout.
func (c *Config) CustodyTimeout() time.Duration {
	return time.Duration(c.CustodyTimeoutMS) * time.Millisecond
}

// RPCTimeout returns the per-call chain RPC timeout.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMS) * time.Millisecond
}

// SolanaConfirmTimeout bounds how long a send waits for confirmation.
func (c *Config) SolanaConfirmTimeout() time.Duration {
	return time.Duration(c.SolanaConfirmTimeoutMS) * time.Millisecond
}

// RetryBaseDelay returns the retry base delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the retry delay cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}
