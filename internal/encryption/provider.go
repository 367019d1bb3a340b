package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum number of key bytes accepted by the local provider.
const MinKeyLength = 32

// hkdfInfo binds derived data keys to this use so the process secret can be
// shared with other derivations without key reuse.
const hkdfInfo = "custody-wallets/key-shares/v1"

// KMSProvider encrypts and decrypts opaque payloads. Implementations must be
// authenticated: Decrypt fails on any modification of the ciphertext.
type KMSProvider interface {
	Encrypt(ctx context.Context, data []byte) ([]byte, error)
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)

	// Provider returns the provider name (e.g., "local", "aws-kms", "vault")
	Provider() string
}

// ProviderType names a supported KMS backend.
type ProviderType string

const (
	// ProviderLocal keeps a process-wide key in memory (AES-256-GCM).
	ProviderLocal ProviderType = "local"

	// ProviderAWSKMS delegates to AWS KMS.
	ProviderAWSKMS ProviderType = "aws-kms"

	// ProviderVault delegates to the HashiCorp Vault Transit engine.
	ProviderVault ProviderType = "vault"
)

// ProviderConfig selects and configures a KMS provider.
type ProviderConfig struct {
	Provider string

	// Local provider
	LocalKey string

	// AWS KMS
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault Transit
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// LocalProvider implements KMSProvider with AES-256-GCM under a key derived
// from the process secret with HKDF-SHA256.
type LocalProvider struct {
	aead cipher.AEAD
}

// NewLocalProvider derives the data key from secret. A 64-character hex
// secret is decoded first; anything else is used as raw bytes. Secrets
// shorter than MinKeyLength bytes are rejected.
func NewLocalProvider(secret string) (*LocalProvider, error) {
	ikm := []byte(secret)
	if len(secret) == 2*MinKeyLength {
		if decoded, err := hex.DecodeString(secret); err == nil {
			ikm = decoded
		}
	}
	if len(ikm) < MinKeyLength {
		return nil, fmt.Errorf("encryption key must be at least %d bytes, got %d", MinKeyLength, len(ikm))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive data key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalProvider{aead: gcm}, nil
}

// Encrypt seals data and returns nonce || ciphertext || tag.
func (p *LocalProvider) Encrypt(_ context.Context, data []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(data)+p.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens nonce || ciphertext || tag.
func (p *LocalProvider) Decrypt(_ context.Context, encryptedData []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(encryptedData) < nonceSize+p.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *LocalProvider) Provider() string {
	return string(ProviderLocal)
}

// AWSKMSProvider implements KMSProvider using AWS KMS
type AWSKMSProvider struct {
	keyID  string
	client *kms.Client
}

// NewAWSKMSProvider loads the default AWS credential chain for region.
func NewAWSKMSProvider(ctx context.Context, keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts data using AWS KMS
func (p *AWSKMSProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Decrypt decrypts data using AWS KMS
func (p *AWSKMSProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: encryptedData,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (p *AWSKMSProvider) Provider() string {
	return string(ProviderAWSKMS)
}

// VaultProvider implements KMSProvider using the Vault Transit engine
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a Vault Transit provider.
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt encrypts data with Transit; the result is the "vault:vN:..." string.
func (p *VaultProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, "transit/encrypt/"+p.transitKey, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit encrypt: ciphertext not found in response")
	}
	return []byte(ciphertext), nil
}

// Decrypt decrypts a Transit ciphertext.
func (p *VaultProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, "transit/decrypt/"+p.transitKey, map[string]interface{}{
		"ciphertext": string(encryptedData),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *VaultProvider) Provider() string {
	return string(ProviderVault)
}

// NewProvider creates a KMSProvider based on the configuration
func NewProvider(ctx context.Context, cfg *ProviderConfig) (KMSProvider, error) {
	provider := ProviderType(cfg.Provider)

	switch provider {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.LocalKey)

	case ProviderAWSKMS:
		return NewAWSKMSProvider(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)

	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)

	default:
		return nil, fmt.Errorf("unsupported KMS provider: %s (supported: %s, %s, %s)",
			provider, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

var (
	_ KMSProvider = (*LocalProvider)(nil)
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
