// Package remote talks to the custody provider's HTTP API for one chain
// family. It only moves requests and responses; classification of the
// failures it returns happens in the custody package.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

const maxResponseBytes = 1 << 20

// Config configures a provider client.
type Config struct {
	BaseURL       string
	EnvironmentID string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client implements custody.Provider over HTTP.
type Client struct {
	baseURL       string
	environmentID string
	family        types.ChainType
	http          *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for family.
func New(family types.ChainType, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("custody provider base URL is required")
	}
	if !family.IsValid() {
		return nil, fmt.Errorf("unknown chain family: %s", family)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		environmentID: cfg.EnvironmentID,
		family:        family,
		http:          httpClient,
	}, nil
}

type authRequest struct {
	Credential    string `json:"credential"`
	EnvironmentID string `json:"environment_id,omitempty"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges credential for a session token used by later calls.
func (c *Client) Authenticate(ctx context.Context, credential string) error {
	var resp authResponse
	if err := c.do(ctx, "/v1/auth/token", authRequest{Credential: credential, EnvironmentID: c.environmentID}, &resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return &custody.ProviderError{StatusCode: http.StatusUnauthorized, Message: "authentication returned no session token"}
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()
	return nil
}

// CreateWalletAccount creates a wallet account and returns the caller's shares.
func (c *Client) CreateWalletAccount(ctx context.Context, req custody.AccountRequest) (*custody.CreatedWallet, error) {
	var resp custody.CreatedWallet
	if err := c.do(ctx, c.familyPath("wallets"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

// SignMessage co-signs a message.
func (c *Client) SignMessage(ctx context.Context, req custody.SignRequest) ([]byte, error) {
	var resp signResponse
	if err := c.do(ctx, c.familyPath("sign-message"), req, &resp); err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

// SignTransaction co-signs a transaction preimage.
func (c *Client) SignTransaction(ctx context.Context, req custody.SignRequest) ([]byte, error) {
	var resp signResponse
	if err := c.do(ctx, c.familyPath("sign-transaction"), req, &resp); err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

func (c *Client) familyPath(action string) string {
	return "/v1/" + string(c.family) + "/" + action
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.environmentID != "" {
		req.Header.Set("X-Environment-ID", c.environmentID)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("custody request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("custody response %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providerError(resp, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode custody response: %w", err)
	}
	return nil
}

// providerError keeps whatever shape the provider answered with: a JSON
// object becomes Payload, anything else becomes Message.
func providerError(resp *http.Response, raw []byte) *custody.ProviderError {
	pe := &custody.ProviderError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		pe.Payload = payload
		if msg, ok := payload["message"].(string); ok {
			pe.Message = msg
		}
		if stack, ok := payload["stack"].(string); ok {
			pe.Stack = stack
		}
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		pe.Message = text
	}

	if pe.Message == "" {
		pe.Message = fmt.Sprintf("custody provider returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return pe
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ custody.Provider = (*Client)(nil)
