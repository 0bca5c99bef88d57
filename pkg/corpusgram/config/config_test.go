package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoaderDefaults(t *testing.T) {
	loader := Loader{Getenv: envMap(nil)}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Empty loader should succeed: %v", err)
	}

	if cfg.Family != "ngram3" {
		t.Errorf("Family = %q, want ngram3", cfg.Family)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Workers)
	}
	if cfg.Retry.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unbounded)", cfg.Retry.MaxAttempts)
	}
}

func TestLoaderYAML(t *testing.T) {
	path := writeConfig(t, "corpusgram.yaml", `
source_path: /data/corpus
family: ngram2
languages: [EN, " fr "]
workers: 4
store:
  driver: postgres
  dsn: postgres://localhost/corpus
retry:
  max_attempts: 10
  backoff: 50ms
  max_backoff: 2s
log:
  level: debug
  format: json
`)

	cfg, err := (&Loader{Path: path, Getenv: envMap(nil)}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SourcePath != "/data/corpus" || cfg.Family != "ngram2" || cfg.Workers != 4 {
		t.Errorf("top level settings not loaded: %+v", cfg)
	}
	if strings.Join(cfg.Languages, ",") != "en,fr" {
		t.Errorf("Languages = %v, want [en fr]", cfg.Languages)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/corpus" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Retry.MaxAttempts != 10 || cfg.Retry.Backoff != 50*time.Millisecond || cfg.Retry.MaxBackoff != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Keys absent from the file keep their defaults.
	if !cfg.Cache.Preload {
		t.Error("Cache.Preload default lost")
	}
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "corpusgram.yaml", "workers: 4\nstore:\n  dsn: file.db\n")

	cfg, err := (&Loader{Path: path, Getenv: envMap(map[string]string{
		"CORPUSGRAM_WORKERS":       "8",
		"CORPUSGRAM_STORE_DSN":     "env.db",
		"CORPUSGRAM_LANGUAGES":     "en, de",
		"CORPUSGRAM_FORCE":         "true",
		"CORPUSGRAM_RETRY_BACKOFF": "5ms",
	})}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.Store.DSN != "env.db" {
		t.Errorf("DSN = %q, want env.db", cfg.Store.DSN)
	}
	if strings.Join(cfg.Languages, ",") != "en,de" {
		t.Errorf("Languages = %v", cfg.Languages)
	}
	if !cfg.Force {
		t.Error("Force should be set from the environment")
	}
	if cfg.Retry.Backoff != 5*time.Millisecond {
		t.Errorf("Backoff = %v", cfg.Retry.Backoff)
	}
}

func TestLoaderEnvFile(t *testing.T) {
	envFile := writeConfig(t, ".env", "CORPUSGRAM_TEST_ENVFILE_DSN=from-dotenv.db\n")
	t.Cleanup(func() { os.Unsetenv("CORPUSGRAM_TEST_ENVFILE_DSN") })

	if _, err := (&Loader{EnvFile: envFile}).Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("CORPUSGRAM_TEST_ENVFILE_DSN"); got != "from-dotenv.db" {
		t.Errorf(".env not loaded, got %q", got)
	}

	if _, err := (&Loader{EnvFile: filepath.Join(t.TempDir(), "missing.env")}).Load(); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestLoaderBadEnvValue(t *testing.T) {
	_, err := (&Loader{Getenv: envMap(map[string]string{"CORPUSGRAM_WORKERS": "many"})}).Load()
	if err == nil || !strings.Contains(err.Error(), "CORPUSGRAM_WORKERS") {
		t.Errorf("expected error naming CORPUSGRAM_WORKERS, got %v", err)
	}
}

func TestLoaderNonExistentFile(t *testing.T) {
	_, err := (&Loader{Path: "/nonexistent/corpusgram.yaml", Getenv: envMap(nil)}).Load()
	if err == nil {
		t.Error("Should error on nonexistent config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Family = "ngram7"
	cfg.Store.Driver = "mysql"
	cfg.Workers = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, want := range []string{"ngram7", "mysql", "workers", "xml"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	ok := Default()
	if err := ok.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
