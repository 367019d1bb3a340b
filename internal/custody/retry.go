package custody

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy configures retries of custody calls.
type Policy struct {
	MaxAttempts int           // Maximum number of attempts (including initial)
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Cap on the computed backoff

	// RetryNetwork extends retries to network failures. Off by default:
	// a timed-out create may have succeeded upstream.
	RetryNetwork bool

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, kind Kind, delay time.Duration)
}

// DefaultPolicy returns 3 attempts with delays starting at 1s, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Retryable reports whether err should be attempted again under p. Failures
// during broadcast or confirmation never are, whatever their kind: the
// transaction may already be on chain and a retry signs a new one.
func (p Policy) Retryable(err error) bool {
	if err == nil || broadcasted(err) {
		return false
	}
	switch KindOf(err) {
	case KindRateLimited:
		return true
	case KindNetwork:
		return p.RetryNetwork
	default:
		return false
	}
}

func broadcasted(err error) bool {
	ce, ok := AsError(err)
	return ok && (ce.Op == OpBroadcast || ce.Op == OpConfirm)
}

// Delay returns the wait before retry number attempt (0-based). A provider
// retry hint on err wins over the computed backoff.
func (p Policy) Delay(attempt int, err error) time.Duration {
	if hint := retryHint(err); hint > 0 {
		return hint
	}

	delay := p.MaxDelay
	if attempt < 31 {
		if d := p.BaseDelay * (1 << attempt); d > 0 && d < p.MaxDelay {
			delay = d
		}
	}
	if p.BaseDelay > 0 {
		// Cryptographic randomness is not needed for retry jitter.
		delay += rand.N(p.BaseDelay) //nolint:gosec // G404
	}
	return delay
}

func retryHint(err error) time.Duration {
	if ce, ok := AsError(err); ok && ce.RetryAfter > 0 {
		return ce.RetryAfter
	}
	return RetryAfterHint(err)
}

// Retry runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The last error is returned unchanged.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var err error

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}

		if !p.Retryable(err) || attempt == attempts-1 {
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, errors.Join(err, ctxErr)
		}

		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, KindOf(err), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return result, err
}
