// Package gcra implements the Generic Cell Rate Algorithm, a continuous-time
// form of leaky-bucket rate limiting. A Limiter models a single subject (one
// client, one key, one connection); it owns no clock and no lock. Callers pass
// "now" explicitly via the *At methods, or use the thin wrappers that read
// time.Now. Sharing an instance across goroutines requires external
// synchronization.
package gcra

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRate is returned when rate is not at least 1.
	ErrInvalidRate = errors.New("gcra: rate must be at least 1")
	// ErrInvalidPeriod is returned when period is not positive, or is too
	// small to give each unit a representable time cost at the given rate.
	ErrInvalidPeriod = errors.New("gcra: period must be positive")
	// ErrInvalidBurst is returned when burst is set below the rate. A burst
	// smaller than one period's worth of units is not a valid shaping
	// configuration and is rejected rather than clamped.
	ErrInvalidBurst = errors.New("gcra: burst must be at least the rate")
)

// Outcome is the tri-state result of a request: admitted, denied with a
// retry hint, or permanently oversized.
type Outcome struct {
	// Admitted reports whether the request was let through. Admission is the
	// only path that consumes capacity.
	Admitted bool

	// RetryAfter is the minimal wait after which the identical request would
	// be admitted, assuming no other requests in between. Only meaningful on
	// an ordinary denial.
	RetryAfter time.Duration

	// ExceedsBurst marks a request larger than the burst ceiling. No amount
	// of waiting will admit it; RetryAfter is zero and must not be read as a
	// finite wait.
	ExceedsBurst bool
}

// Limiter is a single-subject GCRA instance.
//
// Internally the accrued consumption is kept as a theoretical arrival time
// (TAT): a future timestamp up to which the stream is booked. All arithmetic
// is integer duration math, so capacity does not drift over long uptimes.
type Limiter struct {
	rate   int
	period time.Duration
	burst  int

	// emission is the time cost of one admitted unit (period / rate).
	emission time.Duration
	// tolerance is emission * burst; tat minus tolerance is the instant at
	// which the first unit of capacity becomes available again.
	tolerance time.Duration

	tat time.Time
}

// New builds a limiter admitting rate units per period, with burst as the
// capacity ceiling. burst == 0 defaults the ceiling to rate. The limiter
// starts fully charged.
func New(rate int, period time.Duration, burst int) (*Limiter, error) {
	return NewAt(rate, period, burst, time.Now())
}

// NewAt is New with an explicit construction time.
func NewAt(rate int, period time.Duration, burst int, now time.Time) (*Limiter, error) {
	if rate < 1 {
		return nil, ErrInvalidRate
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if burst == 0 {
		burst = rate
	}
	if burst < rate {
		return nil, ErrInvalidBurst
	}
	emission := period / time.Duration(rate)
	if emission <= 0 {
		// integer TAT accounting cannot represent a sub-nanosecond unit cost
		return nil, ErrInvalidPeriod
	}
	return &Limiter{
		rate:      rate,
		period:    period,
		burst:     burst,
		emission:  emission,
		tolerance: emission * time.Duration(burst),
		// tat == now means the full tolerance window is behind us: capacity
		// starts at the burst ceiling.
		tat: now,
	}, nil
}

// Rate returns the configured units per period.
func (l *Limiter) Rate() int { return l.rate }

// Period returns the configured accrual period.
func (l *Limiter) Period() time.Duration { return l.period }

// Burst returns the capacity ceiling.
func (l *Limiter) Burst() int { return l.burst }

// allowAt is the instant from which capacity accrues, one unit per emission
// interval, up to the burst ceiling.
func (l *Limiter) allowAt() time.Time {
	return l.tat.Add(-l.tolerance)
}

func (l *Limiter) capacityAt(now time.Time) int {
	since := now.Sub(l.allowAt())
	if since <= 0 {
		return 0
	}
	units := int(since / l.emission)
	if units > l.burst {
		return l.burst
	}
	return units
}

// Capacity returns the units currently available, as of time.Now.
func (l *Limiter) Capacity() int {
	return l.CapacityAt(time.Now())
}

// CapacityAt returns the units available at now. It is a pure read: no
// capacity is consumed and no state is written.
func (l *Limiter) CapacityAt(now time.Time) int {
	return l.capacityAt(now)
}

// Request asks to admit n units as of time.Now.
func (l *Limiter) Request(n int) Outcome {
	return l.RequestAt(n, time.Now())
}

// RequestAt asks to admit n units at now.
//
// n <= 0 is always admitted and consumes nothing. n larger than the burst
// ceiling can never be admitted and yields ExceedsBurst. An ordinary denial
// carries the exact wait after which the same request would succeed; the
// denial itself consumes nothing, so a caller retrying after that wait is
// not double-penalized.
func (l *Limiter) RequestAt(n int, now time.Time) Outcome {
	if n <= 0 {
		return Outcome{Admitted: true}
	}
	if n > l.burst {
		return Outcome{ExceedsBurst: true}
	}

	if n > l.capacityAt(now) {
		wait := l.allowAt().Add(time.Duration(n) * l.emission).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Outcome{RetryAfter: wait}
	}

	// book n units onto the stream
	base := l.tat
	if now.After(base) {
		base = now
	}
	l.tat = base.Add(time.Duration(n) * l.emission)
	return Outcome{Admitted: true}
}

// Adjust replaces the limiter's configuration as of time.Now.
func (l *Limiter) Adjust(rate int, period time.Duration, burst int) error {
	return l.AdjustAt(rate, period, burst, time.Now())
}

// AdjustAt replaces rate, period and burst while preserving the physical
// meaning of what the subject has already consumed: capacity is brought
// current under the old configuration, the consumed unit count is carried
// over in absolute terms and clamped to the new ceiling, and the TAT is
// re-expressed under the new emission interval. A subject that had spent
// most of its burst does not get a free refill from a reconfiguration,
// except insofar as the ceiling itself was raised.
//
// On a validation error the limiter is left untouched.
func (l *Limiter) AdjustAt(rate int, period time.Duration, burst int, now time.Time) error {
	next, err := NewAt(rate, period, burst, now)
	if err != nil {
		return err
	}
	consumed := l.burst - l.capacityAt(now)
	if consumed > next.burst {
		consumed = next.burst
	}
	if consumed > 0 {
		allowAt := now.Add(-time.Duration(next.burst-consumed) * next.emission)
		next.tat = allowAt.Add(next.tolerance)
	}
	*l = *next
	return nil
}
