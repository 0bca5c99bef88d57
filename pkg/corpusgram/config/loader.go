package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CORPUSGRAM_"

// Loader builds a Config from its sources, each overriding the previous
// one: defaults, the YAML file, the .env file and the environment.
type Loader struct {
	// Path is the YAML file. Empty skips it.
	Path string
	// EnvFile is loaded into the environment when it exists. Variables
	// already set win.
	EnvFile string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load reads all sources and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.Path != "" {
		if err := cfg.LoadFile(l.Path); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", l.EnvFile, err)
		}
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	cfg.Languages = SplitList(strings.Join(cfg.Languages, ","))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("SOURCE_PATH", &cfg.SourcePath)
	str("FAMILY", &cfg.Family)
	if v := getenv(EnvPrefix + "LANGUAGES"); v != "" {
		cfg.Languages = SplitList(v)
	}
	flag("FORCE", &cfg.Force)
	flag("REVERSE", &cfg.Reverse)
	num("WORKERS", &cfg.Workers)
	num("PROGRESS_EVERY", &cfg.ProgressEvery)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_DSN", &cfg.Store.DSN)
	num("STORE_MAX_PARAMS", &cfg.Store.MaxParams)
	flag("CACHE_PRELOAD", &cfg.Cache.Preload)
	num("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	dur("RETRY_BACKOFF", &cfg.Retry.Backoff)
	dur("RETRY_MAX_BACKOFF", &cfg.Retry.MaxBackoff)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// SplitList splits a comma separated list, dropping blanks and
// lower-casing the entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
