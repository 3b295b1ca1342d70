package ratelimit

import (
	"context"
	"time"

	"github.com/AlexKimmel/CellGate/internal/gcra"
)

// Policy is the admission policy for one subject: rate units per period,
// with burst as the capacity ceiling (0 means "same as rate").
type Policy struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Validate reports whether the policy would build a valid limiter.
func (p Policy) Validate() error {
	_, err := gcra.NewAt(p.Rate, p.Period, p.Burst, time.Time{})
	return err
}

// Ceiling returns the effective burst ceiling.
func (p Policy) Ceiling() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.Rate
}

type Decision struct {
	Allowed      bool
	Limit        int           // burst ceiling of the applied policy
	Remaining    int           // units left after this request (min 0)
	RetryAfter   time.Duration // wait until an identical request succeeds
	ExceedsBurst bool          // cost exceeds the ceiling; never admittable
}

// Limiter admits or denies sized requests for keyed subjects. The policy is
// supplied per call so a changed policy reaches existing subjects through
// the limiter's adjust semantics rather than a state reset.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int, p Policy, now time.Time) (Decision, error)
	Capacity(ctx context.Context, key string, p Policy, now time.Time) (int, error)
	Close() error
}
