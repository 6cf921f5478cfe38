package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/gatesim/internal/config"
)

func noEnv(string) string { return "" }

func load(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg, err := config.Loader{Getenv: noEnv}.Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoadWithoutArgsRequestsHelp(t *testing.T) {
	_, err := config.Loader{Getenv: noEnv}.Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("expected ErrHelpRequested, got %v", err)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg := load(t, "--target=http://localhost:8080")

	if cfg.PromptMode != config.PromptModeRandom {
		t.Errorf("PromptMode = %q, want random", cfg.PromptMode)
	}
	if cfg.Requests != 10 {
		t.Errorf("Requests = %d, want 10", cfg.Requests)
	}
	if cfg.Pacing != config.PacingSteady || cfg.Interval != time.Second {
		t.Errorf("pacing = %s/%s", cfg.Pacing, cfg.Interval)
	}
	if cfg.BurstSize != 5 || cfg.BurstInterval != 2*time.Second {
		t.Errorf("burst = %d/%s", cfg.BurstSize, cfg.BurstInterval)
	}
	if cfg.Boxes != 1 || cfg.Rate != 0 {
		t.Errorf("boxes/rate = %d/%d", cfg.Boxes, cfg.Rate)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("Tracing.SampleRate = %g, want 1", cfg.Tracing.SampleRate)
	}
	if !cfg.Headless() {
		t.Error("default mode should be headless")
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatesim.yaml")
	content := `
target: https://gw.example.com
token: file-token
model: gpt-4o-mini
requests: 50
pacing: burst
burst_size: 10
burst_interval: 1s
rate: 20
thresholds:
  - "latency:p99 < 800"
runs:
  - name: first
  - name: second
    requests: 5
    pacing: steady
    interval: 0s
tracing:
  endpoint: localhost:4318
  protocol: http
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := load(t, "--config", path, "--requests=60")

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.TargetURL != "https://gw.example.com" || cfg.Token != "file-token" || cfg.Model != "gpt-4o-mini" {
		t.Errorf("gateway settings = %q %q %q", cfg.TargetURL, cfg.Token, cfg.Model)
	}
	if cfg.Requests != 60 {
		t.Errorf("flag should override file: Requests = %d", cfg.Requests)
	}
	if cfg.Pacing != config.PacingBurst || cfg.BurstSize != 10 || cfg.BurstInterval != time.Second || cfg.Rate != 20 {
		t.Errorf("pacing = %s/%d/%s/%d", cfg.Pacing, cfg.BurstSize, cfg.BurstInterval, cfg.Rate)
	}
	if len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if len(cfg.Runs) != 2 || cfg.Runs[1].Requests == nil || *cfg.Runs[1].Requests != 5 {
		t.Errorf("Runs = %+v", cfg.Runs)
	}
	if cfg.Tracing.Protocol != "http" || cfg.Tracing.Endpoint != "localhost:4318" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatesim.json")
	if err := os.WriteFile(path, []byte(`{
		"target": "http://localhost:9000",
		"serve": ":8080",
		"log_level": "DEBUG",
		"log_format": "json"
	}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := load(t, "--config", path)
	if cfg.Serve != ":8080" || cfg.Headless() {
		t.Errorf("Serve = %q", cfg.Serve)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != config.LogFormatJSON {
		t.Errorf("logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("serve mode needs no model or token: %v", err)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := config.Loader{Getenv: noEnv}.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Defaults()
		cfg.TargetURL = "https://gw.example.com"
		cfg.Model = "gpt-4o-mini"
		cfg.Token = "tok"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing target", func(c *config.Config) { c.TargetURL = "" }, "target is required"},
		{"bad scheme", func(c *config.Config) { c.TargetURL = "ftp://gw" }, "http(s) URL"},
		{"missing model", func(c *config.Config) { c.Model = "" }, "model is required"},
		{"missing token", func(c *config.Config) { c.Token = "" }, "token is required"},
		{"bad pacing", func(c *config.Config) { c.Pacing = "ramp" }, "pacing must be"},
		{"fixed without prompt", func(c *config.Config) { c.PromptMode = config.PromptModeFixed }, "prompt is required"},
		{"zero requests", func(c *config.Config) { c.Requests = 0 }, "requests must be >= 1"},
		{"negative rate", func(c *config.Config) { c.Rate = -1 }, "rate must be >= 0"},
		{"zero boxes", func(c *config.Config) { c.Boxes = 0 }, "boxes must be >= 1"},
		{"modes", func(c *config.Config) { c.Interactive = true; c.Serve = ":8080" }, "mutually exclusive"},
		{"dashboard json", func(c *config.Config) { c.Dashboard = true; c.JSONOutput = true }, "mutually exclusive"},
		{"json yaml", func(c *config.Config) { c.JSONOutput = true; c.YAMLOutput = true }, "json-output and yaml-output"},
		{"dashboard interactive", func(c *config.Config) { c.Dashboard = true; c.Interactive = true }, "headless"},
		{"log level", func(c *config.Config) { c.LogLevel = "trace" }, "log-level"},
		{"log format", func(c *config.Config) { c.LogFormat = "xml" }, "log-format"},
		{"tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "thrift" }, "tracing: protocol"},
		{"sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"duplicate run names", func(c *config.Config) {
			c.Runs = []config.RunEntry{{Name: "a"}, {Name: "A"}}
		}, "duplicate name"},
		{"run without model", func(c *config.Config) {
			c.Model = ""
			c.Runs = []config.RunEntry{{Name: "a", Model: "m"}, {Name: "b"}}
		}, "runs[1]: model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestTracingConfigToggles(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Fatal("empty tracing config should be disabled")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Fatal("endpoint should enable tracing and propagation")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Fatal("explicit propagate=false should win")
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	if !(config.TracingConfig{}).Enabled() {
		t.Fatal("environment endpoint should enable tracing")
	}
}
