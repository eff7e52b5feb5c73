package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"

	"github.com/spf13/viper"
)

// Env holds the variables read from the environment or a .env file.
type Env struct {
	Host           string `mapstructure:"nessus_host"`
	Username       string `mapstructure:"nessus_username"`
	Password       string `mapstructure:"nessus_password"`
	DefaultScanIDs string `mapstructure:"default_scan_ids"`
}

var envKeys = []string{
	"nessus_host",
	"nessus_username",
	"nessus_password",
	"default_scan_ids",
}

// LoadEnv reads the NESSUS_* and DEFAULT_SCAN_IDS variables. Values in
// dotenv are used for variables missing in the environment. A missing
// dotenv file is ignored unless required is true.
func LoadEnv(dotenv string, required bool) (Env, error) {
	v := viper.New()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Env{}, err
		}
	}
	v.AutomaticEnv()

	if dotenv != "" {
		_, err := os.Stat(dotenv)
		switch {
		case err == nil:
			v.SetConfigFile(dotenv)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Env{}, fmt.Errorf("reading %s: %w", dotenv, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Env{}, fmt.Errorf("reading %s: %w", dotenv, err)
		}
	}

	var env Env
	if err := v.Unmarshal(&env); err != nil {
		return Env{}, fmt.Errorf("decoding environment: %w", err)
	}
	return env, nil
}

// Apply overrides cfg with every non-empty variable. DEFAULT_SCAN_IDS is
// used only when cfg has no scans configured.
func (e Env) Apply(cfg *model.Config) {
	if e.Host != "" {
		cfg.Nessus.Host = e.Host
	}
	if e.Username != "" {
		cfg.Nessus.Username = e.Username
	}
	if e.Password != "" {
		cfg.Nessus.Password = e.Password
	}
	if len(cfg.Launch.Scans) == 0 && e.DefaultScanIDs != "" {
		cfg.Launch.Scans = model.ParseScanIDs(e.DefaultScanIDs)
	}
}
