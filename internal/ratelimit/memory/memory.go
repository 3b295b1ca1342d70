// Package memory keeps one GCRA limiter per key in process memory. Each
// key's limiter sits behind its own mutex, so concurrent requests for the
// same subject serialize while distinct subjects proceed independently.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AlexKimmel/CellGate/internal/gcra"
	"github.com/AlexKimmel/CellGate/internal/ratelimit"
)

type entry struct {
	mu     sync.Mutex
	lim    *gcra.Limiter
	policy ratelimit.Policy
}

type Limiter struct {
	entries sync.Map
}

func New() *Limiter {
	return &Limiter{}
}

func (l *Limiter) Close() error { return nil }

// Allow admits or denies cost units for key under p, as of now.
//
// An invalid policy fails open: the request is admitted and no state is
// kept, so a bad policy pushed at runtime degrades to "unlimited" for the
// affected subjects instead of blackholing traffic. When a key's policy
// differs from the one its limiter was built with, the limiter is adjusted
// in place and the subject's consumed capacity carries over.
func (l *Limiter) Allow(_ context.Context, key string, cost int, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	e, err := l.entry(key, p, now)
	if err != nil {
		return ratelimit.Decision{Allowed: true}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy != p {
		// reconfigure, carrying consumed capacity over
		if err := e.lim.AdjustAt(p.Rate, p.Period, p.Burst, now); err != nil {
			return ratelimit.Decision{Allowed: true}, nil
		}
		e.policy = p
	}

	out := e.lim.RequestAt(cost, now)
	return ratelimit.Decision{
		Allowed:      out.Admitted,
		Limit:        e.lim.Burst(),
		Remaining:    e.lim.CapacityAt(now),
		RetryAfter:   out.RetryAfter,
		ExceedsBurst: out.ExceedsBurst,
	}, nil
}

// Capacity reports the units available for key under p without consuming.
func (l *Limiter) Capacity(_ context.Context, key string, p ratelimit.Policy, now time.Time) (int, error) {
	e, err := l.entry(key, p, now)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy != p {
		if err := e.lim.AdjustAt(p.Rate, p.Period, p.Burst, now); err != nil {
			return 0, err
		}
		e.policy = p
	}
	return e.lim.CapacityAt(now), nil
}

func (l *Limiter) entry(key string, p ratelimit.Policy, now time.Time) (*entry, error) {
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry), nil
	}
	lim, err := gcra.NewAt(p.Rate, p.Period, p.Burst, now)
	if err != nil {
		return nil, err
	}
	v, _ := l.entries.LoadOrStore(key, &entry{lim: lim, policy: p})
	return v.(*entry), nil
}
