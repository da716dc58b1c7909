package types

import (
	"strings"
	"testing"
	"time"
)

func TestValidateRunConfig_Defaults(t *testing.T) {
	cfg := DefaultRunConfig()
	if err := ValidateRunConfig(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRunConfig_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"zero concurrency", func(c *RunConfig) { c.Concurrency = 0 }, "concurrency"},
		{"excessive concurrency", func(c *RunConfig) { c.Concurrency = 1001 }, "concurrency"},
		{"zero total requests", func(c *RunConfig) { c.TotalRequests = 0 }, "total_requests"},
		{"negative micro delay", func(c *RunConfig) { c.MicroDelay = -time.Millisecond }, "micro_delay"},
		{"unknown mode", func(c *RunConfig) { c.Mode = Mode("drizzle") }, "mode"},
		{"short timeout", func(c *RunConfig) { c.Timeout = 50 * time.Millisecond }, "timeout"},
		{"negative rate limit", func(c *RunConfig) { c.RateLimit = -1 }, "rate_limit"},
		{"bad proxy url", func(c *RunConfig) { c.ProxyURL = "http://%zz" }, "proxy_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)

			errs := NewRunConfigValidator().Validate(cfg)
			if !errs.HasErrors() {
				t.Fatal("expected validation errors")
			}

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected error on field %q, got: %v", tt.field, errs)
			}
		})
	}
}

func TestValidateRunConfig_WaveMode(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Mode = ModeWave
	cfg.Concurrency = 5
	cfg.WaveSize = 10

	errs := NewRunConfigValidator().Validate(cfg)
	if !errs.HasErrors() {
		t.Fatal("expected wave_size > concurrency to be rejected")
	}

	cfg.WaveSize = 5
	if err := ValidateRunConfig(cfg); err != nil {
		t.Fatalf("wave_size == concurrency should validate, got: %v", err)
	}
}

func TestValidateRunConfig_RandomMode(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Mode = ModeRandom
	cfg.RandomWindow = 0

	errs := NewRunConfigValidator().Validate(cfg)
	if !errs.HasErrors() {
		t.Fatal("expected zero random_window to be rejected in random mode")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "concurrency", Value: 0, Message: "must be at least 1"},
		{Field: "mode", Value: "x", Message: "unknown timing mode"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "concurrency") || !strings.Contains(msg, "mode") {
		t.Fatalf("expected both fields in message, got: %s", msg)
	}
}

func TestRequestTemplate_Helpers(t *testing.T) {
	tpl := RequestTemplate{
		Method: "GET",
		Scheme: "https",
		Host:   "example.com",
		Path:   "/redeem",
		Headers: []Header{
			{Name: "Cookie", Value: "a=1"},
			{Name: "Cookie", Value: "b=2"},
		},
		Tokens: []string{"code"},
	}

	if got := tpl.URL(); got != "https://example.com/redeem" {
		t.Fatalf("unexpected URL: %s", got)
	}

	values := tpl.HeaderValues("cookie")
	if len(values) != 2 || values[0] != "a=1" || values[1] != "b=2" {
		t.Fatalf("expected ordered duplicate headers, got: %v", values)
	}

	if !tpl.HasToken("code") || tpl.HasToken("nope") {
		t.Fatal("HasToken mismatch")
	}
}
