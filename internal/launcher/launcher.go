package launcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/log"
	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/CZERTAINLY/nessus-launcher/internal/retry"
)

// ScanClient makes a single attempt to start a scan on the remote service and
// classifies the result. Implementations must be safe for concurrent use.
type ScanClient interface {
	Launch(ctx context.Context, id model.ScanID) model.Outcome
}

// ScanClientFunc adapts a function to ScanClient.
type ScanClientFunc func(ctx context.Context, id model.ScanID) model.Outcome

func (f ScanClientFunc) Launch(ctx context.Context, id model.ScanID) model.Outcome {
	return f(ctx, id)
}

var errUnclassified = errors.New("scan client returned an unclassified outcome")

type state int

const (
	statePending state = iota
	stateAttempting
	stateBackoff
	stateLaunched
	stateExhausted
	stateFatal
	stateInterrupted
)

// Launcher drives one scan id at a time to a terminal ScanResult. It holds
// no per-scan state, so a single Launcher serves any number of goroutines.
type Launcher struct {
	client ScanClient
	policy retry.Policy
}

func New(client ScanClient, policy retry.Policy) Launcher {
	return Launcher{client: client, policy: policy}
}

// Run launches the scan id, retrying according to the policy.
func (l Launcher) Run(ctx context.Context, id model.ScanID) model.ScanResult {
	ctx = log.ContextAttrs(ctx, slog.Uint64("scan_id", uint64(id)))

	var (
		st      = statePending
		attempt int
		outcome model.Outcome
	)
	for {
		switch st {
		case statePending:
			attempt = 1
			st = stateAttempting
		case stateAttempting:
			slog.DebugContext(ctx, "launching scan", "attempt", attempt, "max_attempts", l.policy.MaxAttempts())
			outcome = l.client.Launch(ctx, id)
			st = l.next(ctx, attempt, outcome)
		case stateBackoff:
			delay := l.policy.Delay(attempt)
			slog.WarnContext(ctx, "scan launch failed: will retry",
				"attempt", attempt,
				"max_attempts", l.policy.MaxAttempts(),
				"delay", delay,
				"error", outcome.Err)
			if err := sleep(ctx, delay); err != nil {
				outcome = model.Retryable(err)
				st = stateInterrupted
				continue
			}
			attempt++
			st = stateAttempting
		default:
			return l.result(ctx, id, st, attempt, outcome)
		}
	}
}

func (l Launcher) next(ctx context.Context, attempt int, outcome model.Outcome) state {
	switch outcome.Kind {
	case model.OutcomeSuccess:
		return stateLaunched
	case model.OutcomeFatal:
		return stateFatal
	case model.OutcomeRetryable:
		if ctx.Err() != nil {
			return stateInterrupted
		}
		if l.policy.ShouldRetry(attempt, outcome) {
			return stateBackoff
		}
		return stateExhausted
	default:
		return stateFatal
	}
}

func (l Launcher) result(ctx context.Context, id model.ScanID, st state, attempts int, outcome model.Outcome) model.ScanResult {
	r := model.ScanResult{
		ScanID:   id,
		Attempts: attempts,
		Err:      outcome.Err,
	}
	switch st {
	case stateLaunched:
		r.Status = model.StatusLaunched
		r.ScanUUID = outcome.ScanUUID
		r.Err = nil
		slog.InfoContext(ctx, "scan launched", "attempts", attempts, "scan_uuid", outcome.ScanUUID)
	case stateExhausted:
		r.Status = model.StatusFailedAfterRetries
		slog.ErrorContext(ctx, "scan failed after retries", "attempts", attempts, "error", outcome.Err)
	case stateFatal:
		r.Status = model.StatusFailedFatal
		if outcome.Kind != model.OutcomeFatal && r.Err == nil {
			r.Err = errUnclassified
		}
		slog.ErrorContext(ctx, "scan failed", "attempts", attempts, "error", r.Err)
	default:
		r.Status = model.StatusInterrupted
		if err := ctx.Err(); err != nil {
			r.Err = err
		}
		slog.DebugContext(ctx, "scan launch interrupted", "attempts", attempts)
	}
	if r.Err != nil {
		r.LastError = r.Err.Error()
	}
	return r
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
