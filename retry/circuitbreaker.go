// Package retry implements the error classifier and a three-state
// circuit breaker: a full CLOSED/OPEN/HALF_OPEN machine keyed per
// broker endpoint, generalized from a simpler boolean-plus-cooldown
// gate.
package retry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/metrics"
	"github.com/web3guy0/execengine/types"
)

// CircuitBreaker is a per-endpoint failure-isolation gate. CLOSED
// admits all requests; after FailureThreshold consecutive failures it
// trips to OPEN and rejects everything until RecoveryTimeout elapses,
// then allows up to HalfOpenMaxRequests probes in HALF_OPEN before
// deciding whether to close again or re-open.
type CircuitBreaker struct {
	mu sync.RWMutex

	endpoint   string
	cfg        config.CircuitBreakerConfig
	state      types.CircuitState
	failures   int
	openedAt   time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker constructs a CLOSED breaker for endpoint.
func NewCircuitBreaker(endpoint string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		endpoint: endpoint,
		cfg:      cfg,
		state:    types.CircuitClosed,
	}
}

// State returns the current state under a read lock.
func (cb *CircuitBreaker) State() types.CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow reports whether a call may proceed, transitioning OPEN→HALF_OPEN
// once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitClosed:
		return true
	case types.CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = types.CircuitHalfOpen
			cb.halfOpenInFlight = 0
			log.Warn().Str("endpoint", cb.endpoint).Msg("circuit breaker: OPEN -> HALF_OPEN")
		} else {
			return false
		}
		fallthrough
	case types.CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			return false
		}
		cb.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker (from HALF_OPEN) or resets the
// failure counter (from CLOSED).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitHalfOpen:
		cb.state = types.CircuitClosed
		cb.failures = 0
		cb.halfOpenInFlight = 0
		log.Info().Str("endpoint", cb.endpoint).Msg("circuit breaker: HALF_OPEN -> CLOSED")
	case types.CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure increments the failure counter and trips the breaker
// to OPEN once the threshold is hit; any failure while HALF_OPEN trips
// it straight back to OPEN.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case types.CircuitHalfOpen:
		cb.state = types.CircuitOpen
		cb.openedAt = time.Now()
		metrics.CircuitBreakerTrips.WithLabelValues(cb.endpoint).Inc()
		log.Warn().Str("endpoint", cb.endpoint).Msg("circuit breaker: HALF_OPEN -> OPEN (probe failed)")
	case types.CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = types.CircuitOpen
			cb.openedAt = time.Now()
			metrics.CircuitBreakerTrips.WithLabelValues(cb.endpoint).Inc()
			log.Warn().Str("endpoint", cb.endpoint).Int("failures", cb.failures).
				Msg("circuit breaker: CLOSED -> OPEN (threshold reached)")
		}
	}
}

// Manager owns one CircuitBreaker per endpoint, created lazily.
type Manager struct {
	mu       sync.Mutex
	cfg      config.CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewManager(cfg config.CircuitBreakerConfig) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns (creating if necessary) the breaker for endpoint.
func (m *Manager) Get(endpoint string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[endpoint]
	if !ok {
		cb = NewCircuitBreaker(endpoint, m.cfg)
		m.breakers[endpoint] = cb
	}
	return cb
}

// ErrCircuitOpen is returned by Do when the breaker for an endpoint is
// not admitting calls.
var ErrCircuitOpen = errs.New(types.ErrorKindNetwork, "circuit breaker open")
