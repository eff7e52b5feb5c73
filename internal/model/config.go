package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"

	DefaultTimeout      = 30 * time.Second
	DefaultLoginTimeout = time.Minute
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Nessus  Nessus  `json:"nessus,omitempty" yaml:"nessus,omitempty"`
	Launch  Launch  `json:"launch,omitempty" yaml:"launch,omitempty"`
	Service Service `json:"service" yaml:"service"`
}

// Nessus holds the connection settings of the scanning service.
type Nessus struct {
	Host               string  `json:"host,omitempty" yaml:"host,omitempty"`
	Username           string  `json:"username,omitempty" yaml:"username,omitempty"`
	Password           string  `json:"password,omitempty" yaml:"password,omitempty"`
	InsecureSkipVerify bool    `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	Timeout            string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`             // per request
	LoginTimeout       string  `json:"login_timeout,omitempty" yaml:"login_timeout,omitempty"` // whole login incl. retries
	RequestsPerSecond  float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst              int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// TimeoutDuration bounds every single request. Values <= 0 fall back to
// the default, an unbounded request is never allowed.
func (n Nessus) TimeoutDuration() (time.Duration, error) {
	return positiveDuration("nessus.timeout", n.Timeout, DefaultTimeout)
}

// LoginTimeoutDuration bounds the whole login including retries. Values <= 0
// fall back to the default.
func (n Nessus) LoginTimeoutDuration() (time.Duration, error) {
	return positiveDuration("nessus.login_timeout", n.LoginTimeout, DefaultLoginTimeout)
}

// Launch describes which scans to launch and how.
type Launch struct {
	Scans       []ScanID `json:"scans,omitempty" yaml:"scans,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"` // 0 => default
	Retry       Retry    `json:"retry,omitempty" yaml:"retry,omitempty"`
}

func (l Launch) ConcurrencyLimit() int {
	if l.Concurrency == 0 {
		return DefaultConcurrency
	}
	return l.Concurrency
}

type Retry struct {
	MaxRetries *int   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter     string `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// RetryConfig resolves the configured values against the defaults.
func (r Retry) RetryConfig() (RetryConfig, error) {
	ret := DefaultRetryConfig()
	if r.MaxRetries != nil {
		ret.MaxRetries = *r.MaxRetries
	}
	var err error
	ret.BaseDelay, err = duration("launch.retry.base_delay", r.BaseDelay, DefaultBaseDelay)
	if err != nil {
		return RetryConfig{}, err
	}
	ret.MaxDelay, err = duration("launch.retry.max_delay", r.MaxDelay, DefaultMaxDelay)
	if err != nil {
		return RetryConfig{}, err
	}
	if r.Jitter != "" {
		ret.Jitter = JitterMode(r.Jitter)
	}
	return ret, ret.Validate()
}

// Service (manual or timer). Output fields are flattened.
type Service struct {
	Mode     string    `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Format   string    `json:"format,omitempty" yaml:"format,omitempty"` // "text" | "json" | "yaml"
	Dir      string    `json:"dir,omitempty" yaml:"dir,omitempty"`       // report directory
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Schedule of the timer mode, exactly one field is set.
type Schedule struct {
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Every string `json:"every,omitempty" yaml:"every,omitempty"`
}

// DefaultConfig is stored when no configuration file exists.
func DefaultConfig() Config {
	maxRetries := DefaultMaxRetries
	return Config{
		Version: 0,
		Nessus: Nessus{
			Host:         "https://localhost:8834",
			Timeout:      DefaultTimeout.String(),
			LoginTimeout: DefaultLoginTimeout.String(),
		},
		Launch: Launch{
			Concurrency: DefaultConcurrency,
			Retry: Retry{
				MaxRetries: &maxRetries,
				BaseDelay:  DefaultBaseDelay.String(),
				MaxDelay:   DefaultMaxDelay.String(),
				Jitter:     string(DefaultJitter),
			},
		},
		Service: Service{
			Mode:   ServiceModeManual,
			Format: FormatText,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}

func duration(name, value string, dflt time.Duration) (time.Duration, error) {
	if value == "" {
		return dflt, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

func positiveDuration(name, value string, dflt time.Duration) (time.Duration, error) {
	d, err := duration(name, value, dflt)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return dflt, nil
	}
	return d, nil
}
