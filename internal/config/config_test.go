package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-master-key-32-bytes-long!!!"

func validConfig() *Config {
	return &Config{
		PostgresDSN:            "postgres://localhost:5432/test",
		Port:                   8080,
		EncryptionProvider:     "local",
		EncryptionKey:          testKey,
		CustodyAPIURL:          "https://custody.test",
		CustodyAuthToken:       "token",
		CustodyTimeoutMS:       30000,
		CustodyRPS:             10,
		CustodyBurst:           20,
		RPCTimeoutMS:           15000,
		SolanaConfirmTimeoutMS: 60000,
		RetryMaxAttempts:       3,
		RetryBaseDelayMS:       1000,
		RetryMaxDelayMS:        10000,
		RateLimitEnabled:       true,
		RateLimitRPS:           20,
		RateLimitBurst:         40,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid local config",
			mutate: func(c *Config) {},
		},
		{
			name: "valid aws kms config",
			mutate: func(c *Config) {
				c.EncryptionProvider = "aws-kms"
				c.EncryptionKey = ""
				c.KMSAWSKeyID = "alias/key-shares"
				c.KMSAWSRegion = "us-east-1"
			},
		},
		{
			name: "valid vault config",
			mutate: func(c *Config) {
				c.EncryptionProvider = "vault"
				c.EncryptionKey = ""
				c.KMSVaultAddress = "http://localhost:8200"
				c.KMSVaultToken = "s.token"
				c.KMSVaultTransitKey = "key-shares"
			},
		},
		{
			name:    "missing PostgresDSN",
			mutate:  func(c *Config) { c.PostgresDSN = "" },
			wantErr: true,
			errMsg:  "POSTGRES_DSN is required",
		},
		{
			name:    "short encryption key",
			mutate:  func(c *Config) { c.EncryptionKey = "short" },
			wantErr: true,
			errMsg:  "at least 32 bytes",
		},
		{
			name:    "aws kms without key id",
			mutate:  func(c *Config) { c.EncryptionProvider = "aws-kms" },
			wantErr: true,
			errMsg:  "KMS_AWS_KEY_ID",
		},
		{
			name:    "unknown encryption provider",
			mutate:  func(c *Config) { c.EncryptionProvider = "gcp" },
			wantErr: true,
			errMsg:  "SHARE_ENCRYPTION_PROVIDER",
		},
		{
			name:    "missing custody token",
			mutate:  func(c *Config) { c.CustodyAuthToken = "" },
			wantErr: true,
			errMsg:  "CUSTODY_AUTH_TOKEN is required",
		},
		{
			name:    "retry attempts too high",
			mutate:  func(c *Config) { c.RetryMaxAttempts = 11 },
			wantErr: true,
			errMsg:  "RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "retry attempts zero",
			mutate:  func(c *Config) { c.RetryMaxAttempts = 0 },
			wantErr: true,
			errMsg:  "RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "base delay out of bounds",
			mutate:  func(c *Config) { c.RetryBaseDelayMS = 60001 },
			wantErr: true,
			errMsg:  "RETRY_BASE_DELAY_MS",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.RetryBaseDelayMS = 5000; c.RetryMaxDelayMS = 1000 },
			wantErr: true,
			errMsg:  "must not be less than",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: true,
			errMsg:  "PORT",
		},
		{
			name:   "rate limit values ignored when disabled",
			mutate: func(c *Config) { c.RateLimitEnabled = false; c.RateLimitRPS = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid configuration from environment", func(t *testing.T) {
		t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/test")
		t.Setenv("SHARE_ENCRYPTION_KEY", testKey)
		t.Setenv("CUSTODY_AUTH_TOKEN", "token")
		t.Setenv("PORT", "9090")
		t.Setenv("RPC_URLS", "421614:https://arb-sepolia.test,devnet:https://sol-devnet.test")
		t.Setenv("RETRY_NETWORK_ERRORS", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost:5432/test", cfg.PostgresDSN)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "https://arb-sepolia.test", cfg.RPCURLs["421614"])
		assert.Equal(t, "https://sol-devnet.test", cfg.RPCURLs["devnet"])
		assert.True(t, cfg.RetryNetworkErrors)
	})

	t.Run("default values", func(t *testing.T) {
		t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/test")
		t.Setenv("SHARE_ENCRYPTION_KEY", testKey)
		t.Setenv("CUSTODY_AUTH_TOKEN", "token")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "local", cfg.EncryptionProvider)
		assert.Equal(t, 3, cfg.RetryMaxAttempts)
		assert.False(t, cfg.RetryNetworkErrors)
		assert.Equal(t, 30*time.Second, cfg.CustodyTimeout())
		assert.Equal(t, time.Second, cfg.RetryBaseDelay())
		assert.Equal(t, 10*time.Second, cfg.RetryMaxDelay())
	})

	t.Run("non-numeric value is rejected", func(t *testing.T) {
		t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/test")
		t.Setenv("SHARE_ENCRYPTION_KEY", testKey)
		t.Setenv("CUSTODY_AUTH_TOKEN", "token")
		t.Setenv("RETRY_MAX_ATTEMPTS", "many")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("missing required POSTGRES_DSN", func(t *testing.T) {
		t.Setenv("POSTGRES_DSN", "")
		t.Setenv("SHARE_ENCRYPTION_KEY", testKey)
		t.Setenv("CUSTODY_AUTH_TOKEN", "token")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "POSTGRES_DSN is required")
	})
}
