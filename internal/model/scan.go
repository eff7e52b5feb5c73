package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScanID identifies a scan on the remote scanning service.
type ScanID uint32

func (id ScanID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseScanID parses a single positive scan identifier.
func ParseScanID(s string) (ScanID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing scan id %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("parsing scan id %q: must be positive", s)
	}
	return ScanID(n), nil
}

// ParseScanIDs parses a comma separated list like DEFAULT_SCAN_IDS=5,8,11.
// Entries which are not valid scan ids are skipped.
func ParseScanIDs(list string) []ScanID {
	var ret []ScanID
	for _, part := range strings.Split(list, ",") {
		id, err := ParseScanID(part)
		if err != nil {
			continue
		}
		ret = append(ret, id)
	}
	return ret
}

// OutcomeKind classifies a single launch attempt.
type OutcomeKind int

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt to launch a scan, as classified by
// the scan client.
type Outcome struct {
	Kind OutcomeKind
	// Err is the failure reason, nil on success
	Err error
	// ScanUUID is the id of the scan run reported by the service, if any
	ScanUUID string
}

func Success(scanUUID string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ScanUUID: scanUUID}
}

func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Status is the terminal state of a scan launch.
type Status string

const (
	StatusLaunched           Status = "launched"
	StatusFailedAfterRetries Status = "failed_after_retries"
	StatusFailedFatal        Status = "failed_fatal"
	// StatusInterrupted marks a launcher stopped by context cancellation.
	// Such results are never part of a LaunchReport.
	StatusInterrupted Status = "interrupted"
)

// ScanResult is the final record of one requested scan.
type ScanResult struct {
	ScanID    ScanID `json:"scan_id" yaml:"scan_id"`
	Status    Status `json:"status" yaml:"status"`
	Attempts  int    `json:"attempts" yaml:"attempts"`
	ScanUUID  string `json:"scan_uuid,omitempty" yaml:"scan_uuid,omitempty"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Err       error  `json:"-" yaml:"-"`
}

func (r ScanResult) Launched() bool {
	return r.Status == StatusLaunched
}

// Summary holds counts derived from the results of a LaunchReport.
type Summary struct {
	Total    int `json:"total" yaml:"total"`
	Launched int `json:"launched" yaml:"launched"`
	Failed   int `json:"failed" yaml:"failed"`
}

// LaunchReport aggregates the results of a dispatch. Results are in the
// order of the requested scan ids.
type LaunchReport struct {
	RunID      string       `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time    `json:"finished_at" yaml:"finished_at"`
	Summary    Summary      `json:"summary" yaml:"summary"`
	Results    []ScanResult `json:"results" yaml:"results"`
}

// NewLaunchReport builds a report and computes its summary.
func NewLaunchReport(runID string, started, finished time.Time, results []ScanResult) LaunchReport {
	if results == nil {
		results = []ScanResult{}
	}
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Launched() {
			s.Launched++
		} else {
			s.Failed++
		}
	}
	return LaunchReport{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Summary:    s,
		Results:    results,
	}
}

// OK reports whether every requested scan has been launched.
func (r LaunchReport) OK() bool {
	return r.Summary.Failed == 0
}
