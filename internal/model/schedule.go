package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron parses a cron expression that have 5 fields or a macro like
// @hourly and @every 5m.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}

// Validate checks that exactly one of cron and every is set and that it
// parses.
func (s Schedule) Validate() error {
	switch {
	case s.Cron != "" && s.Every != "":
		return errors.New("schedule: both cron and every are set")
	case s.Cron != "":
		if _, err := ParseCron(s.Cron); err != nil {
			return fmt.Errorf("schedule: parsing cron: %w", err)
		}
	case s.Every != "":
		d, err := time.ParseDuration(s.Every)
		if err != nil {
			return fmt.Errorf("schedule: parsing every: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("schedule: every must be positive, got %s", d)
		}
	default:
		return errors.New("schedule: both cron and every are empty")
	}
	return nil
}
