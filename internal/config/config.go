// Package config loads scopeguard configuration from the repository's
// .scopeguard.yaml file, with environment variable overrides layered
// on top. A missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the per-repository configuration file.
const FileName = ".scopeguard.yaml"

// Config is the full tool configuration.
type Config struct {
	// BaseBranch overrides the default comparison baseline.
	BaseBranch string `yaml:"base_branch"`

	// Fetch permits the depth-limited baseline fetch. Defaults to true;
	// set false (or SCOPEGUARD_NO_FETCH=1) in restricted networks.
	Fetch bool `yaml:"fetch"`

	// NonSourceSuffixes and NonSourceNames configure the doc-only filter.
	NonSourceSuffixes []string `yaml:"non_source_suffixes"`
	NonSourceNames    []string `yaml:"non_source_names"`

	Graph     GraphConfig     `yaml:"graph"`
	Runner    RunnerConfig    `yaml:"runner"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GraphConfig configures the workspace graph tool invocation.
type GraphConfig struct {
	// Tool is the graph provider binary.
	Tool string `yaml:"tool"`

	// TimeoutSeconds bounds a single graph query.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// RunnerConfig configures the task runner invocation.
type RunnerConfig struct {
	// Tool is the task runner binary.
	Tool string `yaml:"tool"`
}

// TelemetryConfig configures decision recording.
type TelemetryConfig struct {
	// Path is the JSON decision artifact location.
	Path string `yaml:"path"`

	// HistoryPath is the local run history database. Empty disables it.
	HistoryPath string `yaml:"history_path"`

	// Retention bounds the run history database.
	Retention RetentionConfig `yaml:"retention"`

	// EnableMetricsSink turns on the OpenTelemetry metrics sink.
	EnableMetricsSink bool `yaml:"enable_metrics_sink"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Fetch:             true,
		NonSourceSuffixes: []string{".md", ".markdown", ".txt", ".rst", ".adoc"},
		NonSourceNames:    []string{"LICENSE", "NOTICE", "CODEOWNERS", "AUTHORS"},
		Graph: GraphConfig{
			Tool:           "nx",
			TimeoutSeconds: 60,
		},
		Runner: RunnerConfig{
			Tool: "nx",
		},
		Telemetry: TelemetryConfig{
			Path:        ".scopeguard/metrics.json",
			HistoryPath: ".scopeguard/history.db",
			Retention:   DefaultRetentionConfig(),
		},
	}
}

// Load reads the configuration file from repoRoot, applying it over the
// defaults. A missing file is not an error.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(repoRoot, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Telemetry.Retention.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention configuration in %s: %w", FileName, err)
	}
	return cfg, nil
}

// ApplyEnv layers environment overrides onto the config. getenv is
// injectable so tests never touch the real environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv("SCOPEGUARD_NO_FETCH") != "" {
		c.Fetch = false
	}
	if v := getenv("SCOPEGUARD_GRAPH_TOOL"); v != "" {
		c.Graph.Tool = v
	}
	if v := getenv("SCOPEGUARD_RUNNER_TOOL"); v != "" {
		c.Runner.Tool = v
	}
	if v := getenv("SCOPEGUARD_METRICS_JSON"); v != "" {
		c.Telemetry.Path = v
	}
	if err := c.Telemetry.Retention.applyEnv(getenv); err != nil {
		return err
	}
	if err := c.Telemetry.Retention.Validate(); err != nil {
		return fmt.Errorf("invalid retention configuration from environment: %w", err)
	}
	return nil
}
