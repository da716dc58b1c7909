package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/su1ph3r/stampede/internal/parser"
	"github.com/su1ph3r/stampede/pkg/types"
)

// fileStep is the on-disk form of a step: the shared step fields plus the
// raw request text, inline or referenced by file.
type fileStep struct {
	Step        `yaml:",inline"`
	Request     string `yaml:"request,omitempty"`
	RequestFile string `yaml:"request_file,omitempty"`

	// Per-step timing overrides, as duration strings.
	MicroDelay   string `yaml:"micro_delay,omitempty"`
	WaveDelay    string `yaml:"wave_delay,omitempty"`
	RandomWindow string `yaml:"random_window,omitempty"`
}

// runOverrides is the on-disk run section. Durations are strings so that
// "250ms" style values work; unset fields keep their defaults.
type runOverrides struct {
	Mode          string   `yaml:"mode,omitempty"`
	Concurrency   *int     `yaml:"concurrency,omitempty"`
	TotalRequests *int     `yaml:"total_requests,omitempty"`
	MicroDelay    string   `yaml:"micro_delay,omitempty"`
	WaveSize      *int     `yaml:"wave_size,omitempty"`
	WaveDelay     string   `yaml:"wave_delay,omitempty"`
	RandomWindow  string   `yaml:"random_window,omitempty"`
	Timeout       string   `yaml:"timeout,omitempty"`
	RateLimit     *float64 `yaml:"rate_limit,omitempty"`
	ProxyURL      string   `yaml:"proxy_url,omitempty"`
	VerifySSL     *bool    `yaml:"verify_ssl,omitempty"`
}

type workflowFile struct {
	Name  string       `yaml:"name"`
	Run   runOverrides `yaml:"run,omitempty"`
	Steps []fileStep   `yaml:"steps"`
}

// Load reads a workflow definition file, parses each step's raw request,
// applies the file's run overrides on top of the defaults, and validates
// the result.
func Load(path string) (*Definition, types.RunConfig, error) {
	cfg := types.DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cfg, fmt.Errorf("reading workflow file: %w", err)
	}

	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, cfg, fmt.Errorf("parsing workflow file: %w", err)
	}

	def := &Definition{Name: file.Name}
	baseDir := filepath.Dir(path)

	for i := range file.Steps {
		fs := &file.Steps[i]
		step := fs.Step

		raw := fs.Request
		if raw == "" && fs.RequestFile != "" {
			requestPath := fs.RequestFile
			if !filepath.IsAbs(requestPath) {
				requestPath = filepath.Join(baseDir, requestPath)
			}
			data, err := os.ReadFile(requestPath)
			if err != nil {
				return nil, cfg, fmt.Errorf("step %q: reading request file: %w", step.ID, err)
			}
			raw = string(data)
		}
		if raw == "" {
			return nil, cfg, fmt.Errorf("%w: step %q has neither request nor request_file", ErrInvalidWorkflow, step.ID)
		}

		tmpl, err := parser.ParseRequest(raw)
		if err != nil {
			return nil, cfg, fmt.Errorf("step %q: %w", step.ID, err)
		}
		step.Template = tmpl

		stepDurations := []struct {
			raw  string
			dst  *time.Duration
			name string
		}{
			{fs.MicroDelay, &step.MicroDelay, "micro_delay"},
			{fs.WaveDelay, &step.WaveDelay, "wave_delay"},
			{fs.RandomWindow, &step.RandomWindow, "random_window"},
		}
		for _, d := range stepDurations {
			if d.raw == "" {
				continue
			}
			parsed, err := time.ParseDuration(d.raw)
			if err != nil {
				return nil, cfg, fmt.Errorf("%w: step %q %s: %v", ErrInvalidWorkflow, step.ID, d.name, err)
			}
			*d.dst = parsed
		}

		stepCopy := step
		def.Steps = append(def.Steps, &stepCopy)
	}

	if err := applyRunOverrides(&cfg, file.Run); err != nil {
		return nil, cfg, err
	}
	if err := def.Validate(); err != nil {
		return nil, cfg, err
	}
	return def, cfg, nil
}

func applyRunOverrides(cfg *types.RunConfig, run runOverrides) error {
	if run.Mode != "" {
		cfg.Mode = types.Mode(run.Mode)
	}
	if run.Concurrency != nil {
		cfg.Concurrency = *run.Concurrency
	}
	if run.TotalRequests != nil {
		cfg.TotalRequests = *run.TotalRequests
	}
	if run.WaveSize != nil {
		cfg.WaveSize = *run.WaveSize
	}
	if run.RateLimit != nil {
		cfg.RateLimit = *run.RateLimit
	}
	if run.ProxyURL != "" {
		cfg.ProxyURL = run.ProxyURL
	}
	if run.VerifySSL != nil {
		cfg.VerifySSL = *run.VerifySSL
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{run.MicroDelay, &cfg.MicroDelay, "micro_delay"},
		{run.WaveDelay, &cfg.WaveDelay, "wave_delay"},
		{run.RandomWindow, &cfg.RandomWindow, "random_window"},
		{run.Timeout, &cfg.Timeout, "timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: run.%s: %v", ErrInvalidWorkflow, d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}
