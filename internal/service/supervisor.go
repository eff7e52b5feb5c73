package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/CZERTAINLY/nessus-launcher/internal/report"
)

// LaunchFunc executes one launch run.
type LaunchFunc func(ctx context.Context) (model.LaunchReport, error)

type Supervisor struct {
	launch    LaunchFunc
	uploaders []model.Uploader
	format    string
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
}

// NewSupervisor returns a oneshot Supervisor rendering text reports.
func NewSupervisor(launch LaunchFunc, uploaders ...model.Uploader) *Supervisor {
	return &Supervisor{
		launch:    launch,
		uploaders: uploaders,
		format:    model.FormatText,
		oneshot:   true,
		start:     make(chan struct{}, 1),
	}
}

// SupervisorFromConfig creates a Supervisor for the service configuration,
// launching the scans of plan.
func SupervisorFromConfig(ctx context.Context, cfg model.Service, plan Plan) (*Supervisor, error) {
	uploaders, err := report.Uploaders(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	supervisor := NewSupervisor(plan.Launch, uploaders...).
		SetFormat(cfg.Format).
		SetOneshot(cfg.Mode != model.ServiceModeTimer)

	if cfg.Mode == model.ServiceModeTimer {
		scheduler, err := newScheduler(ctx, cfg.Schedule, supervisor.Start)
		if err != nil {
			report.Close(ctx, uploaders)
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
		supervisor.scheduler = scheduler
	}
	return supervisor, nil
}

func (s *Supervisor) SetOneshot(oneshot bool) *Supervisor {
	s.oneshot = oneshot
	return s
}

func (s *Supervisor) SetFormat(format string) *Supervisor {
	if format != "" {
		s.format = format
	}
	return s
}

// Start asks the supervisor for a new run. It never blocks: a request
// arriving while another one is pending is dropped.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// Do runs the supervisor event loop.
// It multiplexes two concerns:
//  1. Start triggers (from Start or the scheduler) - a launch run is executed and its report uploaded.
//  2. Context cancellation - terminates the loop.
//
// Modes:
//   - Oneshot (manual): a run is triggered on entry and its error returned, ErrScansFailed when some scans were not launched.
//   - Timer: a run is triggered on entry and then by the scheduler; errors are only logged; the loop runs until ctx is cancelled.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "oneshot", s.oneshot)
	defer report.Close(ctx, s.uploaders)

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	s.Start()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			err := s.run(ctx)
			if s.oneshot {
				return err
			}
			if err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "launch run failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) run(ctx context.Context) error {
	rep, err := s.launch(ctx)
	if err != nil {
		return err
	}
	raw, err := report.Marshal(rep, s.format)
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	if err := s.upload(ctx, raw); err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}
	if !rep.OK() {
		return fmt.Errorf("%w: %d of %d", model.ErrScansFailed, rep.Summary.Failed, rep.Summary.Total)
	}
	return nil
}

func (s *Supervisor) upload(ctx context.Context, raw []byte) error {
	var errs []error
	for _, u := range s.uploaders {
		err := u.Upload(ctx, raw)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newScheduler(ctx context.Context, cfgp *model.Schedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("service.schedule is nil")
	}
	cfg := *cfgp
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var job gocron.JobDefinition
	if cfg.Cron != "" {
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	} else {
		d, err := time.ParseDuration(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.every: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "every", d.String())
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
