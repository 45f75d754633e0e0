package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookflow.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Storage.Backend != "sqlite" || cfg.Providers.Primary != "anthropic" {
			t.Errorf("defaults = %+v", cfg)
		}
		if !cfg.Stages.QualityGate || !cfg.Stages.Remediation {
			t.Error("optional stages not enabled by default")
		}
		if cfg.Thresholds.MinFidelity != 95 {
			t.Errorf("min fidelity = %d", cfg.Thresholds.MinFidelity)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
[storage]
backend = "memory"

[providers]
primary = "openai"
fallback = ""
validator = "openai"

[thresholds]
min_fidelity = 90
min_readability = 4.0
max_readability = 10.0

[retry]
max_attempts = 5
base_delay_ms = 100
max_delay_ms = 2000

[concurrency]
max_units = 8
per_unit_timeout_seconds = 60

[logging]
format = "json"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Storage.Backend != "memory" {
			t.Errorf("backend = %q", cfg.Storage.Backend)
		}
		if cfg.Providers.Primary != "openai" || cfg.Providers.Fallback != "" {
			t.Errorf("providers = %+v", cfg.Providers)
		}
		if cfg.Thresholds.MinFidelity != 90 {
			t.Errorf("min fidelity = %d", cfg.Thresholds.MinFidelity)
		}
		if got := cfg.RetryPolicy(); got.MaxAttempts != 5 || got.BaseDelay != 100*time.Millisecond {
			t.Errorf("retry policy = %+v", got)
		}
		if got := cfg.PerUnitTimeout(); got != time.Minute {
			t.Errorf("per-unit timeout = %v", got)
		}
		if cfg.Logging.Format != "json" {
			t.Errorf("format = %q", cfg.Logging.Format)
		}
		// Unspecified sections keep their defaults.
		if cfg.Transform.Instructions == "" {
			t.Error("default instructions dropped")
		}
	})

	t.Run("env fills missing api keys", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
		path := writeConfig(t, `
[storage]
backend = "memory"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Providers.AnthropicAPIKey != "sk-ant-from-env" {
			t.Errorf("api key = %q", cfg.Providers.AnthropicAPIKey)
		}
	})

	t.Run("malformed toml fails", func(t *testing.T) {
		path := writeConfig(t, `storage = this is not toml`)
		if _, err := Load(path); err == nil {
			t.Error("malformed config accepted")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config { return Default() }

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage backend"},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, "sqlite_path"},
		{"mysql without dsn", func(c *Config) { c.Storage.Backend = "mysql"; c.Storage.MySQLDSN = "" }, "mysql_dsn"},
		{"unknown provider", func(c *Config) { c.Providers.Primary = "llama" }, "unknown provider"},
		{"no primary", func(c *Config) { c.Providers.Primary = "" }, "primary"},
		{"google validator accepted", func(c *Config) { c.Providers.Validator = "google" }, ""},
		{
			"gate without validator",
			func(c *Config) { c.Providers.Validator = "" },
			"validator",
		},
		{
			"remediation without gate",
			func(c *Config) { c.Stages.QualityGate = false; c.Providers.Validator = "" },
			"remediation",
		},
		{"bad retry", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry"},
		{"bad thresholds", func(c *Config) { c.Thresholds.MinFidelity = 200 }, "thresholds"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
