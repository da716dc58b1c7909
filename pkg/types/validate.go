package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// RunConfigValidator validates run configuration. All checks happen before
// any network activity; an invalid configuration never starts a run.
type RunConfigValidator struct {
	errors ValidationErrors
}

// NewRunConfigValidator creates a new validator.
func NewRunConfigValidator() *RunConfigValidator {
	return &RunConfigValidator{}
}

func (v *RunConfigValidator) addError(field, message string, value interface{}) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// Validate performs comprehensive validation of a run configuration.
func (v *RunConfigValidator) Validate(cfg RunConfig) ValidationErrors {
	v.errors = nil

	switch cfg.Mode {
	case ModeBurst, ModeWave, ModeRandom:
	default:
		v.addError("mode", "unknown timing mode", cfg.Mode)
	}

	if cfg.Concurrency < MinConcurrency {
		v.addError("concurrency", fmt.Sprintf("must be at least %d", MinConcurrency), cfg.Concurrency)
	}
	if cfg.Concurrency > MaxConcurrency {
		v.addError("concurrency", fmt.Sprintf("must not exceed %d", MaxConcurrency), cfg.Concurrency)
	}

	if cfg.TotalRequests < 1 {
		v.addError("total_requests", "must be at least 1", cfg.TotalRequests)
	}

	if cfg.MicroDelay < 0 {
		v.addError("micro_delay", "cannot be negative", cfg.MicroDelay)
	}

	if cfg.Mode == ModeWave {
		if cfg.WaveSize < 1 {
			v.addError("wave_size", "must be at least 1 in wave mode", cfg.WaveSize)
		}
		if cfg.Concurrency >= MinConcurrency && cfg.WaveSize > cfg.Concurrency {
			v.addError("wave_size", "must not exceed concurrency, a wave is one synchronized release group", cfg.WaveSize)
		}
		if cfg.WaveDelay < 0 {
			v.addError("wave_delay", "cannot be negative", cfg.WaveDelay)
		}
	}

	if cfg.Mode == ModeRandom && cfg.RandomWindow <= 0 {
		v.addError("random_window", "must be positive in random mode", cfg.RandomWindow)
	}

	if cfg.Timeout < time.Second {
		v.addError("timeout", "should be at least 1 second", cfg.Timeout)
	}

	if cfg.RateLimit < 0 {
		v.addError("rate_limit", "cannot be negative", cfg.RateLimit)
	}

	if cfg.BodyCap < 0 {
		v.addError("body_cap", "cannot be negative", cfg.BodyCap)
	}

	if cfg.ProxyURL != "" {
		if _, err := url.Parse(cfg.ProxyURL); err != nil {
			v.addError("proxy_url", "invalid URL format", cfg.ProxyURL)
		}
	}

	return v.errors
}

// ValidateRunConfig is a convenience function to validate a run configuration.
func ValidateRunConfig(cfg RunConfig) error {
	validator := NewRunConfigValidator()
	errors := validator.Validate(cfg)
	if errors.HasErrors() {
		return errors
	}
	return nil
}
