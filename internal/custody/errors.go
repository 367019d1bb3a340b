package custody

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// ErrInvalidRequest marks caller input rejected before any upstream call.
var ErrInvalidRequest = errors.New("invalid request")

// Kind is the normalized category of a custody or chain failure.
type Kind string

// Kinds in classification priority order.
const (
	KindAlreadyProvisioned Kind = "already_provisioned"
	KindAuthentication     Kind = "authentication"
	KindRateLimited        Kind = "rate_limited"
	KindNetwork            Kind = "network"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindUnknown            Kind = "unknown"
)

var kindPriority = []Kind{
	KindAlreadyProvisioned,
	KindAuthentication,
	KindRateLimited,
	KindNetwork,
	KindNotFound,
	KindForbidden,
}

// Status returns the transport status suggested for k.
func (k Kind) Status() int {
	switch k {
	case KindAlreadyProvisioned:
		return http.StatusConflict
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Operation names used in errors, logs and metrics.
const (
	OpAuthenticate    = "authenticate"
	OpCreateWallet    = "create_wallet"
	OpGetBalance      = "get_balance"
	OpSignMessage     = "sign_message"
	OpSignTransaction = "sign_transaction"
	OpPrepare         = "prepare_transaction"
	OpBroadcast       = "broadcast"
	OpConfirm         = "confirm"
)

// ProviderError is a raw failure reported by the custody provider. Any field
// may be empty: the provider sometimes answers with only a status, only a
// nested JSON body, or only text that ends up in Stack.
type ProviderError struct {
	StatusCode int
	Message    string
	Payload    map[string]any
	Stack      string
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.StatusCode != 0:
		return fmt.Sprintf("custody provider returned status %d", e.StatusCode)
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return "custody provider error"
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Error is a classified custody failure. It is the only error shape family
// clients return for provider and chain calls.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Family types.ChainType

	// ExistingAddress is set when a create_wallet rejection named the
	// wallet that already exists for this family.
	ExistingAddress string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("custody %s (%s): %s", e.Op, e.Family, e.Kind)
	}
	return fmt.Sprintf("custody %s (%s): %s: %v", e.Op, e.Family, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns the classified error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns err's kind, classifying it on the fly when it was not
// produced by Wrap.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ce, ok := AsError(err); ok {
		return ce.Kind
	}
	return Classify(err, "").Kind
}

// Wrap classifies err for family/op. Already-classified errors are returned
// unchanged. Create-wallet conflicts also carry the existing address when the
// provider embedded one.
func Wrap(err error, family types.ChainType, op string) error {
	if err == nil {
		return nil
	}
	if ce, ok := AsError(err); ok {
		return ce
	}

	c := Classify(err, ExtractMessage(err))
	ce := &Error{
		Kind:       c.Kind,
		Status:     c.Status,
		Op:         op,
		Family:     family,
		RetryAfter: RetryAfterHint(err),
		Err:        err,
	}
	if op == OpCreateWallet && c.Kind == KindAlreadyProvisioned {
		ce.ExistingAddress = ExtractExistingAddress(err, family)
	}
	return ce
}
