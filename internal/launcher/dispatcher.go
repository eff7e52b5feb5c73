package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/log"
	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/CZERTAINLY/nessus-launcher/internal/parallel"
	"github.com/CZERTAINLY/nessus-launcher/internal/retry"

	"github.com/google/uuid"
)

// Dispatcher runs launchers for many scan ids with a bounded concurrency.
type Dispatcher struct {
	launcher Launcher
	now      func() time.Time
	newRunID func() string
}

func NewDispatcher(client ScanClient, policy retry.Policy) *Dispatcher {
	return &Dispatcher{
		launcher: New(client, policy),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Dispatch launches every id with at most limit launchers active and returns
// the results in the order of ids. Failures of individual scans are part of
// the report. An error is returned for limit < 1, before any attempt, and
// when ctx is done before every launcher has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, ids []model.ScanID, limit int) (model.LaunchReport, error) {
	if limit < 1 {
		return model.LaunchReport{}, fmt.Errorf("%w: must be at least 1, got %d", model.ErrInvalidConcurrency, limit)
	}

	runID := d.newRunID()
	ctx = log.ContextAttrs(ctx, slog.String("run_id", runID))
	started := d.now()
	slog.InfoContext(ctx, "dispatching scan launches", "scans", len(ids), "concurrency", limit)

	results, err := parallel.Map(ctx, limit, ids, d.launcher.Run)
	if err != nil {
		return model.LaunchReport{}, fmt.Errorf("dispatch interrupted: %w", err)
	}

	report := model.NewLaunchReport(runID, started, d.now(), results)
	slog.InfoContext(ctx, "dispatch finished",
		"launched", report.Summary.Launched,
		"failed", report.Summary.Failed,
		"elapsed", report.FinishedAt.Sub(started))
	return report, nil
}

// Launch validates the configuration and dispatches ids against client. It
// is the single entry point callers need.
func Launch(ctx context.Context, client ScanClient, ids []model.ScanID, limit int, cfg model.RetryConfig) (model.LaunchReport, error) {
	policy, err := retry.New(cfg)
	if err != nil {
		return model.LaunchReport{}, err
	}
	return NewDispatcher(client, policy).Dispatch(ctx, ids, limit)
}
