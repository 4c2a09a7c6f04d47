package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/observability"
	"github.com/lexiqai/voice-transcriber/internal/resilience"
)

// GuardedBackend wraps a backend with a circuit breaker so a failing
// dependency is not hammered by every segment of every session.
type GuardedBackend struct {
	inner   Backend
	breaker *resilience.CircuitBreaker
}

// NewGuardedBackend wraps inner with a breaker named after the backend
func NewGuardedBackend(inner Backend, maxFailures int, resetTimeout time.Duration, logger zerolog.Logger) *GuardedBackend {
	cb := resilience.NewCircuitBreaker(inner.Name(), maxFailures, resetTimeout)
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("backend", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Backend circuit breaker changed state")
	})
	observability.UpdateCircuitBreakerState(inner.Name(), int(resilience.StateClosed))

	return &GuardedBackend{inner: inner, breaker: cb}
}

// Name returns the wrapped backend's name
func (g *GuardedBackend) Name() string { return g.inner.Name() }

// Breaker exposes the breaker for readiness reporting
func (g *GuardedBackend) Breaker() *resilience.CircuitBreaker { return g.breaker }

// Transcribe calls the wrapped backend unless the breaker is open.
// Invalid audio is the caller's fault and never trips the breaker.
func (g *GuardedBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	err := g.breaker.Call(func() error {
		var err error
		result, err = g.inner.Transcribe(ctx, req)
		return err
	}, func(err error) bool {
		if KindOf(err) == KindInvalidAudio {
			return false
		}
		observability.IncrementCircuitBreakerFailures(g.inner.Name())
		return true
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, NewError(g.inner.Name(), KindNetwork, err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HealthCheck delegates to the wrapped backend, failing while the breaker is open
func (g *GuardedBackend) HealthCheck(ctx context.Context) (bool, error) {
	if state, requests, failures, rate := g.breaker.GetStats(); state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d of %d requests failed (%.1f%%)",
			resilience.ErrCircuitOpen, failures, requests, rate)
	}
	if hc, ok := g.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return true, nil
}

// Close closes the wrapped backend if it holds resources
func (g *GuardedBackend) Close() error {
	if c, ok := g.inner.(Closer); ok {
		return c.Close()
	}
	return nil
}
