package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/types"
)

// Classify maps an error into one of the closed ErrorKinds, by kind
// rather than by concrete type: it inspects the
// wrapped *errs.ExecutionError first, then falls back to well-known
// sentinel patterns so third-party errors (network timeouts, broker
// adapter errors) still land in the right bucket.
func Classify(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	var ee *errs.ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorKindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrorKindTimeout
	}
	return types.ErrorKindSystem
}

// policy describes one ErrorKind's retry budget.
type policy struct {
	maxAttempts int
	baseDelay   time.Duration
	jitter      bool
}

// Policies builds the per-kind retry policy table from config:
// AUTHENTICATION is fatal (no entry, never retried); DATA_VALIDATION
// has no entry either, so Do surfaces it at once without alerting; the
// rest retry with the configured budget.
func Policies(cfg config.RetryConfig) map[types.ErrorKind]policy {
	return map[types.ErrorKind]policy{
		types.ErrorKindRateLimit:  {maxAttempts: cfg.RateLimitMaxAttempts, baseDelay: cfg.RateLimitBaseDelay, jitter: true},
		types.ErrorKindTimeout:    {maxAttempts: cfg.TimeoutMaxAttempts, baseDelay: cfg.TimeoutBaseDelay, jitter: false},
		types.ErrorKindTransient:  {maxAttempts: cfg.TransientMaxAttempts, baseDelay: cfg.TransientBaseDelay, jitter: true},
		types.ErrorKindSystem:     {maxAttempts: cfg.SystemMaxAttempts, baseDelay: cfg.SystemBaseDelay, jitter: false},
		types.ErrorKindNetwork:    {maxAttempts: cfg.SystemMaxAttempts, baseDelay: cfg.SystemBaseDelay, jitter: true},
	}
}

// Runner drives retry/backoff/circuit-breaker decisions for a single
// operation category, e.g. one per broker endpoint.
type Runner struct {
	Policies map[types.ErrorKind]policy
	Breaker  *CircuitBreaker
}

func NewRunner(cfg config.RetryConfig, breaker *CircuitBreaker) *Runner {
	return &Runner{Policies: Policies(cfg), Breaker: breaker}
}

// Check is a data-consistency check run after each recovered attempt:
// non-nil result, shape intact.
type Check func(result interface{}) error

// Do runs fn, classifying and retrying failures according to the
// policy for their kind. AUTHENTICATION and DATA_VALIDATION (and any
// kind without a policy entry) are surfaced immediately, no retry.
func (r *Runner) Do(ctx context.Context, operation string, fn func(ctx context.Context) (interface{}, error), check Check) (interface{}, error) {
	var lastErr error
	attempt := 0

	for {
		attempt++

		if r.Breaker != nil && !r.Breaker.Allow() {
			return nil, ErrCircuitOpen
		}

		result, err := fn(ctx)
		if err == nil {
			if check != nil {
				if cerr := check(result); cerr != nil {
					err = errs.Wrap(types.ErrorKindDataIntegrity, "post-attempt consistency check failed", cerr)
				}
			}
		}

		if err == nil {
			if r.Breaker != nil {
				r.Breaker.RecordSuccess()
			}
			return result, nil
		}

		if r.Breaker != nil {
			r.Breaker.RecordFailure()
		}

		kind := Classify(err)
		lastErr = err

		pol, retryable := r.Policies[kind]
		if !retryable || attempt >= pol.maxAttempts {
			log.Warn().Str("operation", operation).Str("kind", kind.String()).
				Int("attempt", attempt).Err(err).Msg("retry: giving up")
			return nil, lastErr
		}

		delay := backoffDelay(pol, attempt)
		log.Info().Str("operation", operation).Str("kind", kind.String()).
			Int("attempt", attempt).Dur("delay", delay).Msg("retry: backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffDelay(pol policy, attempt int) time.Duration {
	delay := pol.baseDelay * time.Duration(1<<uint(attempt-1))
	if pol.jitter {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
	}
	return delay
}
