package custody

import (
	"context"
	"errors"
	"maps"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/better-wallet/custody-wallets/pkg/types"
)

// Classification is the result of Classify.
type Classification struct {
	Kind   Kind
	Status int
}

var statusKinds = map[int]Kind{
	http.StatusConflict:           KindAlreadyProvisioned,
	http.StatusUnauthorized:       KindAuthentication,
	http.StatusTooManyRequests:    KindRateLimited,
	http.StatusRequestTimeout:     KindNetwork,
	http.StatusBadGateway:         KindNetwork,
	http.StatusServiceUnavailable: KindNetwork,
	http.StatusGatewayTimeout:     KindNetwork,
	http.StatusNotFound:           KindNotFound,
	http.StatusForbidden:          KindForbidden,
}

var kindPhrases = map[Kind][]string{
	KindAlreadyProvisioned: {
		"already exists",
		"already exist",
		"already provisioned",
		"already has a wallet",
		"wallet already",
		"multiple wallets per chain",
		"multiple wallets",
		"duplicate wallet",
	},
	KindAuthentication: {
		"unauthorized",
		"unauthenticated",
		"authentication",
		"not authenticated",
		"invalid token",
		"invalid credentials",
		"jwt expired",
		"token expired",
		"invalid api key",
	},
	KindRateLimited: {
		"rate limit",
		"ratelimit",
		"rate-limit",
		"too many requests",
		"throttl",
		"quota exceeded",
	},
	KindNetwork: {
		"timeout",
		"timed out",
		"econnrefused",
		"econnreset",
		"enotfound",
		"etimedout",
		"socket hang up",
		"network error",
		"connection refused",
		"connection reset",
		"fetch failed",
		"service unavailable",
		"bad gateway",
		"no such host",
	},
	KindNotFound: {
		"not found",
		"does not exist",
		"no such wallet",
	},
	KindForbidden: {
		"forbidden",
		"permission denied",
		"access denied",
		"not permitted",
	},
}

// signals is everything Classify can learn from one error, grouped by source
// in inspection order.
type signals struct {
	statuses []int
	nested   []string
	causes   []string
	text     []string
	network  bool
}

// Classify maps an arbitrary error to a Kind. Kinds are tried in priority
// order; for each kind the sources are checked in order: status code fields,
// the nested error.error string, the cause chain, then free text in message
// and stack. message is usually ExtractMessage(err).
func Classify(err error, message string) Classification {
	if err == nil && message == "" {
		return Classification{Kind: KindUnknown, Status: KindUnknown.Status()}
	}

	s := collectSignals(err, message)
	for _, kind := range kindPriority {
		if s.matches(kind) {
			return Classification{Kind: kind, Status: kind.Status()}
		}
	}
	return Classification{Kind: KindUnknown, Status: KindUnknown.Status()}
}

func (s *signals) matches(kind Kind) bool {
	for _, code := range s.statuses {
		if statusKinds[code] == kind {
			return true
		}
	}
	phrases := kindPhrases[kind]
	if containsAny(s.nested, phrases) || containsAny(s.causes, phrases) {
		return true
	}
	if kind == KindNetwork && s.network {
		return true
	}
	return containsAny(s.text, phrases)
}

func containsAny(texts []string, phrases []string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

func collectSignals(err error, message string) *signals {
	s := &signals{}
	if message != "" {
		s.text = append(s.text, message)
	}
	if err == nil {
		return s
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode != 0 {
			s.statuses = append(s.statuses, pe.StatusCode)
		}
		s.addPayload(pe.Payload, 0)
		if pe.Stack != "" {
			s.text = append(s.text, pe.Stack)
		}
	}

	s.text = append(s.text, err.Error())
	for _, cause := range unwrapAll(err) {
		s.causes = append(s.causes, cause.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		s.network = true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		s.network = true
	}

	return s
}

// addPayload pulls status fields, error.error strings and cause entries out
// of a decoded JSON body.
func (s *signals) addPayload(payload map[string]any, depth int) {
	if payload == nil || depth > 4 {
		return
	}

	for _, key := range []string{"status", "statusCode", "status_code", "httpStatus"} {
		if code, ok := asStatus(payload[key]); ok {
			s.statuses = append(s.statuses, code)
		}
	}
	if code, ok := payload["code"].(string); ok {
		s.nested = append(s.nested, code)
	}

	switch inner := payload["error"].(type) {
	case string:
		s.nested = append(s.nested, inner)
	case map[string]any:
		if str, ok := inner["error"].(string); ok {
			s.nested = append(s.nested, str)
		}
		if msg, ok := inner["message"].(string); ok {
			s.nested = append(s.nested, msg)
		}
		s.addPayload(inner, depth+1)
	}

	switch cause := payload["cause"].(type) {
	case string:
		s.causes = append(s.causes, cause)
	case map[string]any:
		for _, key := range []string{"message", "error", "code"} {
			if str, ok := cause[key].(string); ok {
				s.causes = append(s.causes, str)
			}
		}
		s.addPayload(cause, depth+1)
	}

	if msg, ok := payload["message"].(string); ok && depth == 0 {
		s.text = append(s.text, msg)
	}
	if stack, ok := payload["stack"].(string); ok {
		s.text = append(s.text, stack)
	}
}

func asStatus(v any) (int, bool) {
	var code int
	switch n := v.(type) {
	case float64:
		code = int(n)
	case int:
		code = n
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		code = parsed
	default:
		return 0, false
	}
	if code < 100 || code > 599 {
		return 0, false
	}
	return code, true
}

// unwrapAll returns every error below err in its wrap tree, breadth first.
func unwrapAll(err error) []error {
	var out []error
	queue := []error{err}
	for len(queue) > 0 && len(out) < 32 {
		current := queue[0]
		queue = queue[1:]

		var next []error
		switch u := current.(type) {
		case interface{ Unwrap() []error }:
			next = u.Unwrap()
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				next = []error{inner}
			}
		}
		for _, n := range next {
			if n != nil {
				out = append(out, n)
				queue = append(queue, n)
			}
		}
	}
	return out
}

// ExtractMessage returns the most specific human-readable message in err:
// the nested error.error string, then the payload message, then err itself.
func ExtractMessage(err error) string {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Payload != nil {
		if inner, ok := pe.Payload["error"].(map[string]any); ok {
			if str, ok := inner["error"].(string); ok && str != "" {
				return str
			}
			if msg, ok := inner["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if str, ok := pe.Payload["error"].(string); ok && str != "" {
			return str
		}
		if msg, ok := pe.Payload["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return err.Error()
}

// RetryAfterHint returns the provider's retry hint, from the Retry-After
// header or a retryAfter payload field in seconds.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return 0
	}
	if pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	for _, key := range []string{"retryAfter", "retry_after"} {
		switch v := pe.Payload[key].(type) {
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Second))
			}
		case string:
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

var (
	evmAddressPattern    = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
	evmAddressExact      = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaAddressPattern = regexp.MustCompile(`(?i:address)\W{0,4}([1-9A-HJ-NP-Za-km-z]{32,44})\b`)
	solanaAddressExact   = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	addressFields        = []string{"address", "walletAddress", "wallet_address", "existingAddress", "existing_address"}
)

// ExtractExistingAddress finds the already-provisioned wallet address in a
// create_wallet rejection. Structured payload fields win over text matches.
func ExtractExistingAddress(err error, family types.ChainType) string {
	if err == nil {
		return ""
	}

	var texts []string
	var pe *ProviderError
	if errors.As(err, &pe) {
		if addr := addressFromPayload(pe.Payload, family, 0); addr != "" {
			return addr
		}
		texts = append(texts, payloadStrings(pe.Payload, 0)...)
		texts = append(texts, pe.Message, pe.Stack)
	}
	texts = append(texts, err.Error())

	for _, t := range texts {
		if addr := addressFromText(t, family); addr != "" {
			return addr
		}
	}
	return ""
}

func addressFromPayload(payload map[string]any, family types.ChainType, depth int) string {
	if payload == nil || depth > 4 {
		return ""
	}
	for _, key := range addressFields {
		if v, ok := payload[key].(string); ok && validAddress(v, family) {
			return v
		}
	}
	for _, key := range []string{"error", "data", "details", "cause", "meta"} {
		if inner, ok := payload[key].(map[string]any); ok {
			if addr := addressFromPayload(inner, family, depth+1); addr != "" {
				return addr
			}
		}
	}
	return ""
}

// payloadStrings flattens string values in key order so text matching picks
// the same address on every call.
func payloadStrings(payload map[string]any, depth int) []string {
	if payload == nil || depth > 4 {
		return nil
	}
	var out []string
	for _, key := range slices.Sorted(maps.Keys(payload)) {
		switch val := payload[key].(type) {
		case string:
			out = append(out, val)
		case map[string]any:
			out = append(out, payloadStrings(val, depth+1)...)
		}
	}
	return out
}

func addressFromText(text string, family types.ChainType) string {
	switch family {
	case types.ChainTypeEVM:
		return evmAddressPattern.FindString(text)
	case types.ChainTypeSolana:
		if m := solanaAddressPattern.FindStringSubmatch(text); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

func validAddress(addr string, family types.ChainType) bool {
	switch family {
	case types.ChainTypeEVM:
		return evmAddressExact.MatchString(addr)
	case types.ChainTypeSolana:
		return solanaAddressExact.MatchString(addr)
	default:
		return addr != ""
	}
}
