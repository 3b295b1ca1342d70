package gcra

import "time"

// State is a snapshot of a limiter's accrued consumption, for stores that
// keep per-key state externally (e.g. Redis). The snapshot carries only the
// theoretical arrival time; configuration travels separately so a policy
// change between snapshot and restore goes through the usual validation.
type State struct {
	TAT time.Time `json:"tat"`
}

// State returns the limiter's current snapshot.
func (l *Limiter) State() State {
	return State{TAT: l.tat}
}

// Restore builds a limiter from a configuration and a previously captured
// snapshot. A zero snapshot yields a fresh, fully charged limiter, so a
// missing store entry and a new subject behave identically.
func Restore(rate int, period time.Duration, burst int, s State, now time.Time) (*Limiter, error) {
	l, err := NewAt(rate, period, burst, now)
	if err != nil {
		return nil, err
	}
	if !s.TAT.IsZero() {
		l.tat = s.TAT
	}
	return l, nil
}
