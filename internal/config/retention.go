package config

import (
	"fmt"
	"strconv"
)

// RetentionConfig bounds the run-history database. Old records are
// pruned on open so the database never grows without limit.
type RetentionConfig struct {
	// MaxAgeDays is how long run records are kept.
	// Default: 90, Range: 1-730. Records older than this are deleted.
	MaxAgeDays int `yaml:"max_age_days"`

	// MaxRows caps the total number of run records. When exceeded, the
	// oldest records are deleted first. Set to 0 for unlimited.
	// Default: 10000, Range: 0 or 100-1000000
	MaxRows int `yaml:"max_rows"`

	// Vacuum controls whether VACUUM runs after pruning. It reclaims
	// disk space but locks the database.
	// Default: false
	Vacuum bool `yaml:"vacuum"`
}

// DefaultRetentionConfig returns the stock retention bounds: enough
// history for trend analysis without letting a busy repository grow an
// unbounded database.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MaxAgeDays: 90,
		MaxRows:    10000,
		Vacuum:     false,
	}
}

// Validate checks if the configuration has valid values.
func (c RetentionConfig) Validate() error {
	if c.MaxAgeDays < 1 || c.MaxAgeDays > 730 {
		return fmt.Errorf("max_age_days must be between 1 and 730 (got %d)", c.MaxAgeDays)
	}

	if c.MaxRows < 0 {
		return fmt.Errorf("max_rows cannot be negative (got %d)", c.MaxRows)
	}
	if c.MaxRows > 0 && c.MaxRows < 100 {
		return fmt.Errorf("max_rows must be 0 (unlimited) or >= 100 (got %d)", c.MaxRows)
	}
	if c.MaxRows > 1000000 {
		return fmt.Errorf("max_rows too large (got %d, max 1000000)", c.MaxRows)
	}

	return nil
}

func (c RetentionConfig) String() string {
	return fmt.Sprintf("RetentionConfig{MaxAgeDays: %d, MaxRows: %d, Vacuum: %t}",
		c.MaxAgeDays, c.MaxRows, c.Vacuum)
}

// applyEnv layers retention environment overrides. Invalid values are
// reported rather than silently ignored.
func (c *RetentionConfig) applyEnv(getenv func(string) string) error {
	if err := parseEnvInt(getenv, "SCOPEGUARD_HISTORY_MAX_AGE_DAYS", &c.MaxAgeDays); err != nil {
		return err
	}
	if err := parseEnvInt(getenv, "SCOPEGUARD_HISTORY_MAX_ROWS", &c.MaxRows); err != nil {
		return err
	}
	if err := parseEnvBool(getenv, "SCOPEGUARD_HISTORY_VACUUM", &c.Vacuum); err != nil {
		return err
	}
	return nil
}

// parseEnvInt parses an int from an environment variable, leaving dest
// untouched when the variable is unset.
func parseEnvInt(getenv func(string) string, key string, dest *int) error {
	value := getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable.
func parseEnvBool(getenv func(string) string, key string, dest *bool) error {
	value := getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
