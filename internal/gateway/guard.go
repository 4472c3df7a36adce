// Package gateway bounds calls to payment provider SDKs with a timeout and
// a circuit breaker.
package gateway

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Config tunes a Guard.
type Config struct {
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// Failures is the number of consecutive transient failures that open
	// the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Failures == 0 {
		c.Failures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Guard protects calls to one provider.
type Guard struct {
	provider  payment.Provider
	timeout   time.Duration
	transient func(error) bool
	cb        *gobreaker.CircuitBreaker[any]
}

// NewGuard creates a Guard. transient reports whether an SDK error means
// the provider is unavailable (network, 5xx, 429) rather than that the
// request was wrong; only transient errors trip the breaker and become
// payment.GatewayError.
func NewGuard(provider payment.Provider, cfg Config, transient func(error) bool, lg *zap.Logger) *Guard {
	cfg = cfg.withDefaults()
	g := &Guard{
		provider:  provider,
		timeout:   cfg.Timeout,
		transient: transient,
	}
	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !g.isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Payment provider breaker state changed",
				zap.String("provider", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return g
}

func (g *Guard) isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return g.transient != nil && g.transient(err)
}

// Call runs fn under g. Transient failures, timeouts and an open breaker
// are returned as *payment.GatewayError; other errors pass through.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	out, err := g.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || g.isTransient(err) {
			return zero, &payment.GatewayError{Provider: g.provider, Op: op, Err: err}
		}
		return zero, err
	}
	return out.(T), nil
}

// Detach runs a blocking call that takes no context in its own goroutine
// and abandons it when ctx is done.
func Detach[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
