package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/log"
	"github.com/CZERTAINLY/nessus-launcher/internal/model"
	"github.com/CZERTAINLY/nessus-launcher/internal/service"

	"github.com/spf13/cobra"
)

var launchCmd = &cobra.Command{
	Use:   "launch [SCAN_ID]...",
	Short: "launch starts the given scans once and prints the report",
	Long: `launch starts the given scans once and prints the report.

Scan ids are taken from positional arguments and --scan flags, then from the
configuration file and finally from DEFAULT_SCAN_IDS.
Exit status is 0 when all scans were launched, 2 when some failed, 1 otherwise.`,
	RunE: doLaunch,
}

// launchFlags are applied over the configuration only when set
type launchFlags struct {
	scans       []uint
	concurrency int
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      string
	format      string
	dir         string
}

var flagLaunch launchFlags

func addLaunchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.UintSliceVar(&flagLaunch.scans, "scan", nil, "scan id to launch, can be repeated")
	f.IntVar(&flagLaunch.concurrency, "concurrency", model.DefaultConcurrency, "maximum number of scans launched at once")
	f.IntVar(&flagLaunch.maxRetries, "max-retries", model.DefaultMaxRetries, "retries of a launch after transient failures")
	f.DurationVar(&flagLaunch.baseDelay, "base-delay", model.DefaultBaseDelay, "backoff before the first retry")
	f.DurationVar(&flagLaunch.maxDelay, "max-delay", model.DefaultMaxDelay, "backoff cap, 0 means no cap")
	f.StringVar(&flagLaunch.jitter, "jitter", string(model.DefaultJitter), "backoff jitter: none, full or equal")
	f.StringVar(&flagLaunch.format, "format", model.FormatText, "report format: text, json or yaml")
	f.StringVar(&flagLaunch.dir, "dir", "", "store the report in a directory instead of stdout")
}

// apply copies the flags the user has set into cfg
func (l launchFlags) apply(changed func(name string) bool, args []string, cfg *model.Config) error {
	var scans []model.ScanID
	for _, arg := range args {
		id, err := model.ParseScanID(arg)
		if err != nil {
			return err
		}
		scans = append(scans, id)
	}
	for _, n := range l.scans {
		if n == 0 || uint64(n) > math.MaxUint32 {
			return fmt.Errorf("parsing scan id %d: out of range", n)
		}
		scans = append(scans, model.ScanID(n))
	}
	if len(scans) > 0 {
		cfg.Launch.Scans = scans
	}

	if changed("concurrency") {
		// 0 would silently mean the default in the config
		if l.concurrency < 1 {
			return fmt.Errorf("%w: must be at least 1, got %d", model.ErrInvalidConcurrency, l.concurrency)
		}
		cfg.Launch.Concurrency = l.concurrency
	}
	if changed("max-retries") {
		maxRetries := l.maxRetries
		cfg.Launch.Retry.MaxRetries = &maxRetries
	}
	if changed("base-delay") {
		cfg.Launch.Retry.BaseDelay = l.baseDelay.String()
	}
	if changed("max-delay") {
		cfg.Launch.Retry.MaxDelay = l.maxDelay.String()
	}
	if changed("jitter") {
		cfg.Launch.Retry.Jitter = l.jitter
	}
	if changed("format") {
		switch l.format {
		case model.FormatText, model.FormatJSON, model.FormatYAML:
		default:
			return fmt.Errorf("unsupported format %q", l.format)
		}
		cfg.Service.Format = l.format
	}
	if changed("dir") {
		cfg.Service.Dir = l.dir
	}
	// launch is always one-shot
	cfg.Service.Mode = model.ServiceModeManual
	cfg.Service.Schedule = nil
	return nil
}

func doLaunch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("launcher",
		slog.String("cmd", "launch"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	cfg := config
	if err := flagLaunch.apply(cmd.Flags().Changed, args, &cfg); err != nil {
		return err
	}

	plan, err := service.PlanFromConfig(cfg)
	if err != nil {
		return err
	}
	supervisor, err := service.SupervisorFromConfig(ctx, cfg.Service, plan)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}
