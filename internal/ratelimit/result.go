package ratelimit

import (
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/database"
)

// Outcome classifies a single check.
type Outcome int

const (
	// Allowed means the call was admitted and counted.
	Allowed Outcome = iota
	// Refused means the window quota is exhausted.
	Refused
	// Unknown means the backend failed; the caller's policy decides.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Refused:
		return "refused"
	default:
		return "unknown"
	}
}

// FailurePolicy decides how Unknown results are treated.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

// Result is the outcome of CheckAndIncrement.
type Result struct {
	Outcome    Outcome
	Remaining  int
	RetryAfter time.Duration
	Cause      error
}

// Permit folds the result into a yes/no under policy.
func (r Result) Permit(policy FailurePolicy) bool {
	switch r.Outcome {
	case Allowed:
		return true
	case Refused:
		return false
	default:
		return policy == FailOpen
	}
}

// Apply runs one fixed-window step against the current record (nil when
// absent). It returns the record to write back, or nil when the call is
// refused and nothing changes.
func Apply(current *database.RateLimitRecord, now time.Time, limit int, window time.Duration) (*database.RateLimitRecord, Result) {
	if current == nil || now.Sub(current.WindowStart) >= window || current.Count <= 0 {
		return &database.RateLimitRecord{Count: 1, WindowStart: now},
			Result{Outcome: Allowed, Remaining: limit - 1}
	}

	if current.Count < limit {
		next := &database.RateLimitRecord{Count: current.Count + 1, WindowStart: current.WindowStart}
		return next, Result{Outcome: Allowed, Remaining: limit - next.Count}
	}

	retry := window - now.Sub(current.WindowStart)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return nil, Result{Outcome: Refused, Remaining: 0, RetryAfter: retry}
}
