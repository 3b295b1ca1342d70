// Package redis keeps per-key GCRA state in Redis so multiple gateway
// instances can shape the same subjects. The state is a single theoretical
// arrival timestamp per key, stored as JSON under a TTL.
//
// Reads and writes are not atomic across instances; as with any
// read-modify-write store, routing a given subject through a single
// instance at a time is the deployment's responsibility.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/CellGate/internal/gcra"
	"github.com/AlexKimmel/CellGate/internal/ratelimit"
)

const keyPrefix = "cellgate:gcra:"

type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an idle subject's state survives. Anything at or
	// beyond a full refill is equivalent to no state at all, so expiry never
	// changes an admission decision.
	TTL time.Duration
}

// record is the stored form of a subject's state. The policy travels with
// the TAT: a TAT is only meaningful under the emission interval it was
// written with, so a policy change on read goes through the limiter's
// adjust semantics instead of reinterpreting the timestamp.
type record struct {
	TAT    time.Time     `json:"tat"`
	Rate   int           `json:"rate"`
	Period time.Duration `json:"period"`
	Burst  int           `json:"burst"`
}

type Limiter struct {
	client *redis.Client
	ttl    time.Duration
}

func New(cfg Config) *Limiter {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Limiter{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
	}
}

// Ping checks the Redis connection.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

func (l *Limiter) Allow(ctx context.Context, key string, cost int, p ratelimit.Policy, now time.Time) (ratelimit.Decision, error) {
	lim, err := l.load(ctx, key, p, now)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	out := lim.RequestAt(cost, now)
	if out.Admitted && cost > 0 {
		if err := l.store(ctx, key, lim); err != nil {
			return ratelimit.Decision{}, err
		}
	}
	return ratelimit.Decision{
		Allowed:      out.Admitted,
		Limit:        lim.Burst(),
		Remaining:    lim.CapacityAt(now),
		RetryAfter:   out.RetryAfter,
		ExceedsBurst: out.ExceedsBurst,
	}, nil
}

func (l *Limiter) Capacity(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (int, error) {
	lim, err := l.load(ctx, key, p, now)
	if err != nil {
		return 0, err
	}
	return lim.CapacityAt(now), nil
}

func (l *Limiter) load(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (*gcra.Limiter, error) {
	var rec record
	raw, err := l.client.Get(ctx, keyPrefix+key).Bytes()
	switch {
	case err == redis.Nil:
		// new subject: zero record restores fully charged
	case err != nil:
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	default:
		if err := json.Unmarshal(raw, &rec); err != nil {
			// unreadable state is dropped rather than trusted
			rec = record{}
		}
	}

	if rec.TAT.IsZero() {
		lim, err := gcra.NewAt(p.Rate, p.Period, p.Burst, now)
		if err != nil {
			return nil, fmt.Errorf("policy for %q: %w", key, err)
		}
		return lim, nil
	}

	lim, err := gcra.Restore(rec.Rate, rec.Period, rec.Burst, gcra.State{TAT: rec.TAT}, now)
	if err != nil {
		// stored under a policy that no longer validates; start over
		lim, err = gcra.NewAt(p.Rate, p.Period, p.Burst, now)
		if err != nil {
			return nil, fmt.Errorf("policy for %q: %w", key, err)
		}
		return lim, nil
	}
	if lim.Rate() != p.Rate || lim.Period() != p.Period || lim.Burst() != p.Ceiling() {
		if err := lim.AdjustAt(p.Rate, p.Period, p.Burst, now); err != nil {
			return nil, fmt.Errorf("policy for %q: %w", key, err)
		}
	}
	return lim, nil
}

func (l *Limiter) store(ctx context.Context, key string, lim *gcra.Limiter) error {
	raw, err := json.Marshal(record{
		TAT:    lim.State().TAT,
		Rate:   lim.Rate(),
		Period: lim.Period(),
		Burst:  lim.Burst(),
	})
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, keyPrefix+key, raw, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
