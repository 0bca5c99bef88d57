// Package config loads corpusgram settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/corpusgram/pkg/corpusgram/ingest"
)

// Config is the full set of settings.
type Config struct {
	SourcePath    string   `yaml:"source_path"`
	Family        string   `yaml:"family"`
	Languages     []string `yaml:"languages"`
	Force         bool     `yaml:"force"`
	Reverse       bool     `yaml:"reverse"`
	Workers       int      `yaml:"workers"`
	ProgressEvery int      `yaml:"progress_every"`

	Store Store `yaml:"store"`
	Cache Cache `yaml:"cache"`
	Retry Retry `yaml:"retry"`
	Log   Log   `yaml:"log"`
}

// Store selects the datastore.
type Store struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	MaxParams int    `yaml:"max_params"`
}

type Cache struct {
	Preload bool `yaml:"preload"`
}

// Retry bounds the conflict-retry loop. MaxAttempts 0 retries forever.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		SourcePath:    ".",
		Family:        "ngram3",
		Workers:       1,
		ProgressEvery: 1000,
		Store: Store{
			Driver: "sqlite",
			DSN:    "corpusgram.db",
		},
		Cache: Cache{Preload: true},
		Retry: Retry{
			Backoff:    20 * time.Millisecond,
			MaxBackoff: time.Second,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// LoadFile merges the YAML file at path over c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// FamilySpec returns the configured n-gram family.
func (c *Config) FamilySpec() (ingest.Family, error) {
	return ingest.FamilyByName(c.Family)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if f, err := c.FamilySpec(); err != nil {
		errs = append(errs, err)
	} else if err := f.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q (known: sqlite, postgres)", c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store dsn is empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry max_attempts must not be negative, got %d", c.Retry.MaxAttempts))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (known: console, json)", c.Log.Format))
	}
	return errors.Join(errs...)
}
