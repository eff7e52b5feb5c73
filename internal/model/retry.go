package model

import (
	"fmt"
	"time"
)

// JitterMode selects how a backoff delay gets randomized.
type JitterMode string

const (
	// JitterNone uses the exponential delay as is.
	JitterNone JitterMode = "none"
	// JitterFull draws the delay uniformly from [0, d].
	JitterFull JitterMode = "full"
	// JitterEqual draws the delay uniformly from [d/2, d].
	JitterEqual JitterMode = "equal"
)

const (
	DefaultMaxRetries  = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultJitter      = JitterFull
	DefaultConcurrency = 4
)

// RetryConfig is shared read-only by all launchers of a dispatch.
type RetryConfig struct {
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the delay, zero means no cap.
	MaxDelay time.Duration
	Jitter   JitterMode
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     DefaultJitter,
	}
}

func (c RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidRetry, c.MaxRetries)
	case c.BaseDelay <= 0:
		return fmt.Errorf("%w: base_delay must be > 0, got %s", ErrInvalidRetry, c.BaseDelay)
	case c.MaxDelay < 0:
		return fmt.Errorf("%w: max_delay must be >= 0, got %s", ErrInvalidRetry, c.MaxDelay)
	case c.MaxDelay != 0 && c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("%w: max_delay %s is lower than base_delay %s", ErrInvalidRetry, c.MaxDelay, c.BaseDelay)
	}
	switch c.Jitter {
	case JitterNone, JitterFull, JitterEqual, "":
	default:
		return fmt.Errorf("%w: unknown jitter %q", ErrInvalidRetry, c.Jitter)
	}
	return nil
}
