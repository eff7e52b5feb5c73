// Package retry decides whether a failed launch attempt is retried and how
// long to wait before the next one. A Policy has no side effects other than
// drawing random numbers for jitter.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
)

// Policy is an immutable retry policy, safe for concurrent use.
type Policy struct {
	cfg model.RetryConfig
	// int64n returns a uniform number in [0, n)
	int64n func(n int64) int64
}

// New returns a Policy for a validated cfg.
func New(cfg model.RetryConfig) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return Policy{}, err
	}
	if cfg.Jitter == "" {
		cfg.Jitter = model.JitterNone
	}
	return Policy{cfg: cfg, int64n: rand.Int64N}, nil
}

// WithRand replaces the source of the jitter, int64n must return a number
// in [0, n).
func (p Policy) WithRand(int64n func(n int64) int64) Policy {
	p.int64n = int64n
	return p
}

// Config returns the validated configuration, Jitter is never empty.
func (p Policy) Config() model.RetryConfig {
	return p.cfg
}

// MaxAttempts is the total number of attempts a launcher may make.
func (p Policy) MaxAttempts() int {
	return p.cfg.MaxRetries + 1
}

// ShouldRetry reports whether another attempt is permitted after attempt
// (1-based) ended with outcome.
func (p Policy) ShouldRetry(attempt int, outcome model.Outcome) bool {
	if outcome.Kind != model.OutcomeRetryable {
		return false
	}
	return attempt >= 1 && attempt <= p.cfg.MaxRetries
}

// Ceiling returns min(BaseDelay * 2^(attempt-1), MaxDelay), the delay
// without any jitter. Overflow saturates.
func (p Policy) Ceiling(attempt int) time.Duration {
	limit := p.cfg.MaxDelay
	if limit == 0 {
		limit = math.MaxInt64
	}
	d := p.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= limit || d > math.MaxInt64/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Delay is the wait before the attempt following attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Ceiling(attempt)
	switch p.cfg.Jitter {
	case model.JitterFull:
		return p.uniform(0, d)
	case model.JitterEqual:
		half := d / 2
		return p.uniform(half, d)
	default:
		return d
	}
}

// uniform returns a duration in [lo, hi]
func (p Policy) uniform(lo, hi time.Duration) time.Duration {
	span := int64(hi - lo)
	if span <= 0 {
		return lo
	}
	if span < math.MaxInt64 {
		span++
	}
	return lo + time.Duration(p.int64n(span))
}
