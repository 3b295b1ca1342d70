package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Failover routes decisions to a primary limiter (typically Redis-backed)
// behind a circuit breaker, falling back to a local limiter when the
// primary errors or the breaker is open. The fallback keeps shaping traffic
// per instance, so a store outage degrades accuracy, not availability.
type Failover struct {
	primary  Limiter
	fallback Limiter
	breaker  *gobreaker.CircuitBreaker
	onState  func(open bool)
}

// NewFailover wraps primary with fallback. onState, if non-nil, is called
// when the breaker opens or closes.
func NewFailover(primary, fallback Limiter, onState func(open bool)) *Failover {
	f := &Failover{primary: primary, fallback: fallback, onState: onState}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-primary",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if f.onState != nil {
				f.onState(to == gobreaker.StateOpen)
			}
		},
	})
	return f
}

func (f *Failover) Allow(ctx context.Context, key string, cost int, p Policy, now time.Time) (Decision, error) {
	v, err := f.breaker.Execute(func() (any, error) {
		return f.primary.Allow(ctx, key, cost, p, now)
	})
	if err != nil {
		return f.fallback.Allow(ctx, key, cost, p, now)
	}
	return v.(Decision), nil
}

func (f *Failover) Capacity(ctx context.Context, key string, p Policy, now time.Time) (int, error) {
	v, err := f.breaker.Execute(func() (any, error) {
		return f.primary.Capacity(ctx, key, p, now)
	})
	if err != nil {
		return f.fallback.Capacity(ctx, key, p, now)
	}
	return v.(int), nil
}

func (f *Failover) Close() error {
	return errors.Join(f.primary.Close(), f.fallback.Close())
}
