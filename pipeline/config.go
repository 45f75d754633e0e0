// Package pipeline assembles the flow engine, stores, and providers into
// the book transformation pipeline and exposes its operations: run,
// resume, status, and standalone remediation.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/bookflow-go/flow"
)

// Storage selects and configures the persistence backend.
type Storage struct {
	// Backend is "sqlite", "mysql", or "memory".
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
	MySQLDSN   string `toml:"mysql_dsn"`
}

// Providers configures the external text providers. API keys fall back to
// the conventional environment variables when empty.
type Providers struct {
	// Primary and Fallback select the transform providers:
	// "anthropic", "openai", or "google". Fallback may be empty.
	Primary  string `toml:"primary"`
	Fallback string `toml:"fallback"`

	// Validator selects the quality validator: "anthropic", "openai",
	// or "google".
	Validator string `toml:"validator"`

	AnthropicAPIKey string `toml:"anthropic_api_key"`
	AnthropicModel  string `toml:"anthropic_model"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIModel     string `toml:"openai_model"`
	GoogleAPIKey    string `toml:"google_api_key"`
	GoogleModel     string `toml:"google_model"`
}

// Stages toggles optional pipeline stages. Disabled stages are omitted
// from the graph at construction, not skipped at runtime.
type Stages struct {
	QualityGate bool `toml:"quality_gate"`
	Remediation bool `toml:"remediation"`
}

// Thresholds configures the quality gate, overridable per job.
type Thresholds struct {
	MinFidelity    int     `toml:"min_fidelity"`
	MinReadability float64 `toml:"min_readability"`
	MaxReadability float64 `toml:"max_readability"`
}

// Retry configures the retry/fallback executor for external calls.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// Concurrency bounds fan-out execution.
type Concurrency struct {
	MaxUnits           int `toml:"max_units"`
	PerUnitTimeoutSecs int `toml:"per_unit_timeout_seconds"`
}

// Logging configures event output.
type Logging struct {
	// Format is "text" or "json".
	Format string `toml:"format"`

	// EventsPath, when set, appends a JSONL event log to this file in
	// addition to stderr output.
	EventsPath string `toml:"events_path"`
}

// Transform configures the transformation itself.
type Transform struct {
	// Instructions is the base transform directive sent with every unit.
	Instructions string `toml:"instructions"`
}

// Config is the full pipeline configuration.
type Config struct {
	Storage     Storage     `toml:"storage"`
	Providers   Providers   `toml:"providers"`
	Stages      Stages      `toml:"stages"`
	Thresholds  Thresholds  `toml:"thresholds"`
	Retry       Retry       `toml:"retry"`
	Concurrency Concurrency `toml:"concurrency"`
	Logging     Logging     `toml:"logging"`
	Transform   Transform   `toml:"transform"`
}

// Default returns the stock configuration: SQLite storage, Anthropic
// primary with OpenAI fallback, both optional stages enabled, and the
// default gate and retry policies.
func Default() Config {
	retry := flow.DefaultRetryPolicy()
	thresholds := flow.DefaultThresholds()
	return Config{
		Storage: Storage{
			Backend:    "sqlite",
			SQLitePath: "./bookflow.db",
		},
		Providers: Providers{
			Primary:   "anthropic",
			Fallback:  "openai",
			Validator: "openai",
		},
		Stages: Stages{
			QualityGate: true,
			Remediation: true,
		},
		Thresholds: Thresholds{
			MinFidelity:    thresholds.MinFidelity,
			MinReadability: thresholds.MinReadability,
			MaxReadability: thresholds.MaxReadability,
		},
		Retry: Retry{
			MaxAttempts: retry.MaxAttempts,
			BaseDelayMS: int(retry.BaseDelay / time.Millisecond),
			MaxDelayMS:  int(retry.MaxDelay / time.Millisecond),
		},
		Concurrency: Concurrency{
			MaxUnits:           flow.DefaultMaxConcurrency,
			PerUnitTimeoutSecs: 300,
		},
		Logging: Logging{
			Format: "text",
		},
		Transform: Transform{
			Instructions: "Modernize the following text for contemporary readers. " +
				"Preserve the author's meaning, events, and tone exactly; update " +
				"archaic vocabulary and sentence structure.",
		},
	}
}

// Load reads and validates a configuration file. A missing file yields
// the defaults; path "" checks ./bookflow.toml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "bookflow.toml"
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return cfg, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.fillEnv()
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillEnv()
	return cfg, cfg.Validate()
}

// fillEnv fills missing API keys from the conventional env vars.
func (c *Config) fillEnv() {
	if c.Providers.AnthropicAPIKey == "" {
		c.Providers.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Providers.OpenAIAPIKey == "" {
		c.Providers.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Providers.GoogleAPIKey == "" {
		c.Providers.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Storage.MySQLDSN == "" {
		c.Storage.MySQLDSN = os.Getenv("MYSQL_DSN")
	}
}

// Validate checks the configuration for coherence.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case "mysql":
		if c.Storage.MySQLDSN == "" {
			return errors.New("storage.mysql_dsn is required for the mysql backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite, mysql, or memory)", c.Storage.Backend)
	}

	for _, name := range []string{c.Providers.Primary, c.Providers.Fallback, c.Providers.Validator} {
		switch name {
		case "", "anthropic", "openai", "google":
		default:
			return fmt.Errorf("unknown provider %q", name)
		}
	}
	if c.Providers.Primary == "" {
		return errors.New("providers.primary is required")
	}
	if c.Stages.QualityGate && c.Providers.Validator == "" {
		return errors.New("providers.validator is required when the quality gate is enabled")
	}
	if c.Stages.Remediation && !c.Stages.QualityGate {
		return errors.New("remediation requires the quality gate")
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.GateThresholds().Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unknown logging format %q (want text or json)", c.Logging.Format)
	}
	return nil
}

// RetryPolicy converts the retry section to a flow.RetryPolicy.
func (c *Config) RetryPolicy() flow.RetryPolicy {
	return flow.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMS) * time.Millisecond,
	}
}

// GateThresholds converts the thresholds section to flow.Thresholds.
func (c *Config) GateThresholds() flow.Thresholds {
	return flow.Thresholds{
		MinFidelity:    c.Thresholds.MinFidelity,
		MinReadability: c.Thresholds.MinReadability,
		MaxReadability: c.Thresholds.MaxReadability,
	}
}

// PerUnitTimeout converts the concurrency section's per-unit timeout.
func (c *Config) PerUnitTimeout() time.Duration {
	return time.Duration(c.Concurrency.PerUnitTimeoutSecs) * time.Second
}
