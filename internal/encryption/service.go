// Package encryption seals key-share payloads before they reach storage.
//
// Ciphertexts are self-describing strings: a version prefix followed by the
// strict base64 of whatever the KMS provider produced (for the local provider
// nonce || ciphertext || tag), so the store keeps a single opaque column.
package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryption is returned for every decrypt failure: malformed envelope,
// bad encoding, wrong key or tag mismatch. It is never retryable.
var ErrDecryption = errors.New("decryption failed")

const envelopePrefix = "ks1:"

var envelopeEncoding = base64.StdEncoding.Strict()

// Service encrypts and decrypts opaque byte payloads with a process-wide key.
type Service struct {
	provider KMSProvider
}

// NewService wraps provider.
func NewService(provider KMSProvider) *Service {
	return &Service{provider: provider}
}

// Provider returns the backing provider's name.
func (s *Service) Provider() string {
	return s.provider.Provider()
}

// Encrypt returns the envelope string for plaintext.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	sealed, err := s.provider.Encrypt(ctx, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return envelopePrefix + envelopeEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. It never returns partial
// plaintext: on any failure the result is nil and the error wraps ErrDecryption.
func (s *Service) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	body, ok := strings.CutPrefix(ciphertext, envelopePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown envelope version", ErrDecryption)
	}

	sealed, err := envelopeEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}

	plaintext, err := s.provider.Decrypt(ctx, sealed)
	if err != nil {
		// The provider error may quote ciphertext; keep only the sentinel.
		return nil, fmt.Errorf("%w: %s", ErrDecryption, s.provider.Provider())
	}
	return plaintext, nil
}
