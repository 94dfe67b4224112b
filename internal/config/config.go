// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration. CLI flags override these
// values per invocation.
type Config struct {
	// Database settings.
	DatabaseURL string // SQLite file path or postgres:// URL.

	// Engine settings.
	ReviewThreshold float64 // Auto-accept threshold for classifier output.
	RulesPath       string  // Optional YAML override of the embedded rule set.
	ComputedVersion string  // computed_version written on topic positions.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel   string
	SampleSize int // Sample rows included in each backfill summary.
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric or boolean values are reported rather than silently
// replaced by their defaults.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	threshold, err := envFloat("HEMICICLO_REVIEW_THRESHOLD", 0.62)
	collect(err)
	insecure, err := envBool("HEMICICLO_OTEL_INSECURE", false)
	collect(err)
	sampleSize, err := envInt("HEMICICLO_SAMPLE_SIZE", 5)
	collect(err)

	cfg := Config{
		DatabaseURL:     envStr("HEMICICLO_DB", "hemiciclo.db"),
		ReviewThreshold: threshold,
		RulesPath:       envStr("HEMICICLO_RULES_PATH", ""),
		ComputedVersion: envStr("HEMICICLO_COMPUTED_VERSION", "v1"),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "hemiciclo"),
		OTELInsecure:    insecure,
		LogLevel:        envStr("HEMICICLO_LOG_LEVEL", "info"),
		SampleSize:      sampleSize,
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: HEMICICLO_DB is required")
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("config: HEMICICLO_REVIEW_THRESHOLD must be in [0,1], got %v", c.ReviewThreshold)
	}
	if c.ComputedVersion == "" {
		return fmt.Errorf("config: HEMICICLO_COMPUTED_VERSION must not be empty")
	}
	if c.SampleSize < 0 {
		return fmt.Errorf("config: HEMICICLO_SAMPLE_SIZE must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: HEMICICLO_LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}
