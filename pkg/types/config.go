package types

import (
	"time"
)

// Mode is a temporal release strategy for outbound requests.
type Mode string

const (
	// ModeBurst releases all requests of a group simultaneously from a
	// shared barrier, minimizing send-time skew.
	ModeBurst Mode = "burst"
	// ModeWave releases fixed-size batches sequentially with a delay
	// between batches; burst semantics apply inside a batch.
	ModeWave Mode = "wave"
	// ModeRandom delays each request by an independently drawn random
	// offset inside a window; no barrier is used.
	ModeRandom Mode = "random"
)

// RunConfig holds the execution parameters for one race run.
type RunConfig struct {
	Mode          Mode          `yaml:"mode" mapstructure:"mode"`
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	TotalRequests int           `yaml:"total_requests" mapstructure:"total_requests"`

	// MicroDelay is a uniform pause inserted immediately before each send,
	// applied to every worker in a release group.
	MicroDelay time.Duration `yaml:"micro_delay" mapstructure:"micro_delay"`

	// Wave mode only.
	WaveSize  int           `yaml:"wave_size" mapstructure:"wave_size"`
	WaveDelay time.Duration `yaml:"wave_delay" mapstructure:"wave_delay"`

	// Random mode only.
	RandomWindow time.Duration `yaml:"random_window" mapstructure:"random_window"`

	// Timeout bounds each individual send/receive cycle.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// RateLimit caps the run-wide request rate in requests per second.
	// Zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`

	ProxyURL  string `yaml:"proxy_url" mapstructure:"proxy_url"`
	VerifySSL bool   `yaml:"verify_ssl" mapstructure:"verify_ssl"`

	// BodyCap limits how many response body bytes an outcome retains.
	BodyCap int `yaml:"body_cap" mapstructure:"body_cap"`
}

// Concurrency bounds enforced before any run starts.
const (
	MinConcurrency = 1
	MaxConcurrency = 1000
)

// DefaultRunConfig returns a configuration with sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Mode:          ModeBurst,
		Concurrency:   10,
		TotalRequests: 10,
		MicroDelay:    0,
		WaveSize:      10,
		WaveDelay:     100 * time.Millisecond,
		RandomWindow:  500 * time.Millisecond,
		Timeout:       30 * time.Second,
		VerifySSL:     false,
		BodyCap:       64 * 1024,
	}
}

// OutputSettings holds presentation-layer configuration.
type OutputSettings struct {
	Format  string `yaml:"format" mapstructure:"format"` // text, json
	File    string `yaml:"file" mapstructure:"file"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Color   bool   `yaml:"color" mapstructure:"color"`
}

// LogSettings holds structured-logging configuration.
type LogSettings struct {
	Level string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Config is the full application configuration.
type Config struct {
	Run    RunConfig      `yaml:"run" mapstructure:"run"`
	Output OutputSettings `yaml:"output" mapstructure:"output"`
	Log    LogSettings    `yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Run: DefaultRunConfig(),
		Output: OutputSettings{
			Format: "text",
			Color:  true,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}
