package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	PromptModeFixed  = "fixed"
	PromptModeRandom = "random"

	PacingSteady = "steady"
	PacingBurst  = "burst"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// TokenEnv is read when no token is configured.
const TokenEnv = "GATESIM_TOKEN"

type Config struct {
	TargetURL     string        `mapstructure:"target"`
	Path          string        `mapstructure:"path"`
	Token         string        `mapstructure:"token"`
	Model         string        `mapstructure:"model"`
	PromptMode    string        `mapstructure:"prompt_mode"`
	Prompt        string        `mapstructure:"prompt"`
	Requests      int           `mapstructure:"requests"`
	Pacing        string        `mapstructure:"pacing"`
	Interval      time.Duration `mapstructure:"interval"`
	BurstSize     int           `mapstructure:"burst_size"`
	BurstInterval time.Duration `mapstructure:"burst_interval"`
	Rate          int           `mapstructure:"rate"`
	Boxes         int           `mapstructure:"boxes"`
	Runs          []RunEntry    `mapstructure:"runs"`
	Timeout       time.Duration `mapstructure:"timeout"`
	JSONOutput    bool          `mapstructure:"json_output"`
	YAMLOutput    bool          `mapstructure:"yaml_output"`
	ReportFile    string        `mapstructure:"report_file"`
	Dashboard     bool          `mapstructure:"dashboard"`
	Interactive   bool          `mapstructure:"interactive"`
	Serve         string        `mapstructure:"serve"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Thresholds    []string      `mapstructure:"thresholds"`
	Tracing       TracingConfig `mapstructure:"tracing"`
	ConfigFile    string        `mapstructure:"-"`
}

// RunEntry describes one named box in a multi-box run. Empty or nil fields
// inherit the top-level value.
type RunEntry struct {
	Name          string         `mapstructure:"name"`
	Model         string         `mapstructure:"model"`
	Token         string         `mapstructure:"token"`
	PromptMode    string         `mapstructure:"prompt_mode"`
	Prompt        string         `mapstructure:"prompt"`
	Pacing        string         `mapstructure:"pacing"`
	Requests      *int           `mapstructure:"requests"`
	Interval      *time.Duration `mapstructure:"interval"`
	BurstSize     *int           `mapstructure:"burst_size"`
	BurstInterval *time.Duration `mapstructure:"burst_interval"`
	Rate          *int           `mapstructure:"rate"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled
}

// Enabled reports whether an OTLP endpoint is configured here or in the
// environment.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")) != ""
}

// ShouldPropagate reports whether outbound requests carry trace headers.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Headless reports whether the process runs boxes straight away and exits
// when they finish.
func (c Config) Headless() bool {
	return !c.Interactive && strings.TrimSpace(c.Serve) == ""
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	if strings.TrimSpace(c.TargetURL) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(c.TargetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target must be an http(s) URL, got %q", c.TargetURL))
	}

	if c.Rate > 1000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High rate limit configured (%d RPS). Ensure you have authorization to load the gateway.", c.Rate))
	}
	if c.boxCount() > 50 {
		warnings = append(warnings, fmt.Sprintf("WARNING: %d simulation boxes configured. Ensure you have authorization to load the gateway.", c.boxCount()))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Interactive && strings.TrimSpace(c.Serve) != "" {
		issues = append(issues, "interactive and serve are mutually exclusive")
	}
	if c.Dashboard && !c.Headless() {
		issues = append(issues, "dashboard is only available in headless mode")
	}
	if c.Dashboard && (c.JSONOutput || c.YAMLOutput) {
		issues = append(issues, "dashboard and json-output/yaml-output are mutually exclusive")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}

	if c.Headless() {
		if len(c.Runs) == 0 {
			if strings.TrimSpace(c.Model) == "" {
				issues = append(issues, "model is required")
			}
			if strings.TrimSpace(c.Token) == "" {
				issues = append(issues, fmt.Sprintf("token is required (flag, config file or %s)", TokenEnv))
			}
		}
		for idx, run := range c.Runs {
			if strings.TrimSpace(firstNonEmpty(run.Model, c.Model)) == "" {
				issues = append(issues, fmt.Sprintf("runs[%d]: model is required", idx))
			}
			if strings.TrimSpace(firstNonEmpty(run.Token, c.Token)) == "" {
				issues = append(issues, fmt.Sprintf("runs[%d]: token is required", idx))
			}
		}
	}

	issues = append(issues, validateRunShape("", c.PromptMode, c.Prompt, c.Pacing)...)
	if c.Requests < 1 {
		issues = append(issues, "requests must be >= 1")
	}
	if c.Interval < 0 {
		issues = append(issues, "interval must be >= 0")
	}
	if c.BurstSize < 1 {
		issues = append(issues, "burst-size must be >= 1")
	}
	if c.BurstInterval < 0 {
		issues = append(issues, "burst-interval must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Boxes < 1 {
		issues = append(issues, "boxes must be >= 1")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	issues = append(issues, validateRuns(c.Runs, c)...)

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("log-format must be %q or %q, got %q", LogFormatConsole, LogFormatJSON, c.LogFormat))
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c Config) boxCount() int {
	if len(c.Runs) > 0 {
		return len(c.Runs)
	}
	return c.Boxes
}

func validateRunShape(prefix, promptMode, prompt, pacing string) []string {
	var issues []string
	switch promptMode {
	case PromptModeRandom:
	case PromptModeFixed:
		if strings.TrimSpace(prompt) == "" {
			issues = append(issues, prefix+"prompt is required when prompt-mode is fixed")
		}
	default:
		issues = append(issues, fmt.Sprintf("%sprompt-mode must be %q or %q, got %q", prefix, PromptModeFixed, PromptModeRandom, promptMode))
	}
	switch pacing {
	case PacingSteady, PacingBurst:
	default:
		issues = append(issues, fmt.Sprintf("%spacing must be %q or %q, got %q", prefix, PacingSteady, PacingBurst, pacing))
	}
	return issues
}

func validateRuns(runs []RunEntry, base Config) []string {
	var issues []string
	seenNames := map[string]int{}
	for idx, run := range runs {
		prefix := fmt.Sprintf("runs[%d]: ", idx)
		issues = append(issues, validateRunShape(prefix,
			firstNonEmpty(run.PromptMode, base.PromptMode),
			firstNonEmpty(run.Prompt, base.Prompt),
			firstNonEmpty(run.Pacing, base.Pacing))...)
		if run.Requests != nil && *run.Requests < 1 {
			issues = append(issues, prefix+"requests must be >= 1")
		}
		if run.Interval != nil && *run.Interval < 0 {
			issues = append(issues, prefix+"interval must be >= 0")
		}
		if run.BurstSize != nil && *run.BurstSize < 1 {
			issues = append(issues, prefix+"burst_size must be >= 1")
		}
		if run.Rate != nil && *run.Rate < 0 {
			issues = append(issues, prefix+"rate must be >= 0")
		}
		name := strings.TrimSpace(run.Name)
		if name != "" {
			key := strings.ToLower(name)
			if prev, ok := seenNames[key]; ok {
				issues = append(issues, fmt.Sprintf("%sduplicate name also defined at index %d", prefix, prev))
			} else {
				seenNames[key] = idx
			}
		}
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
