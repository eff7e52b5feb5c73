package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/launcher"
	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/CZERTAINLY/nessus-launcher/internal/nessus"
	"github.com/CZERTAINLY/nessus-launcher/internal/retry"
)

const logoutTimeout = 10 * time.Second

// Plan is the resolved input of a launch run.
type Plan struct {
	Nessus      model.Nessus
	Scans       []model.ScanID
	Concurrency int
	Retry       model.RetryConfig
}

// PlanFromConfig resolves defaults and validates cfg. Configuration errors
// are reported before anything talks to the network.
func PlanFromConfig(cfg model.Config) (Plan, error) {
	if cfg.Version != 0 {
		return Plan{}, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	retryCfg, err := cfg.Launch.Retry.RetryConfig()
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		Nessus:      cfg.Nessus,
		Scans:       cfg.Launch.Scans,
		Concurrency: cfg.Launch.ConcurrencyLimit(),
		Retry:       retryCfg,
	}
	return p, p.validate()
}

func (p Plan) validate() error {
	if p.Concurrency < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d", model.ErrInvalidConcurrency, p.Concurrency)
	}
	return p.Retry.Validate()
}

// Launch logs in, launches all the scans and logs out.
func (p Plan) Launch(ctx context.Context) (model.LaunchReport, error) {
	if err := p.validate(); err != nil {
		return model.LaunchReport{}, err
	}
	policy, err := retry.New(p.Retry)
	if err != nil {
		return model.LaunchReport{}, err
	}
	if len(p.Scans) == 0 {
		slog.InfoContext(ctx, "no scan ids provided: nothing to launch")
		return launcher.NewDispatcher(nil, policy).Dispatch(ctx, nil, p.Concurrency)
	}

	client, err := nessus.New(p.Nessus)
	if err != nil {
		return model.LaunchReport{}, fmt.Errorf("initializing nessus client: %w", err)
	}
	session, err := client.Login(ctx)
	if err != nil {
		return model.LaunchReport{}, err
	}
	defer func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()
		if err := session.Logout(lctx); err != nil {
			slog.WarnContext(ctx, "nessus logout failed", "error", err)
		}
	}()

	slog.InfoContext(ctx, "launching scans", "scans", p.Scans)
	return launcher.NewDispatcher(session, policy).Dispatch(ctx, p.Scans, p.Concurrency)
}
