package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pacing selects how requests are spaced out over a run.
type Pacing string

const (
	PacingSteady Pacing = "steady"
	PacingBurst  Pacing = "burst"
)

// PromptMode selects where request prompts come from.
type PromptMode string

const (
	PromptFixed  PromptMode = "fixed"
	PromptRandom PromptMode = "random"
)

// Configuration bounds.
const (
	MinRequestCount    = 1
	MaxRequestCount    = 10_000
	MaxRequestInterval = 30 * time.Second
	MinBurstSize       = 1
	MaxBurstSize       = 100
	MinBurstInterval   = 100 * time.Millisecond
	MaxBurstInterval   = 60 * time.Second
)

// ErrRunActive is returned when a running simulation is reconfigured.
var ErrRunActive = errors.New("simulation is running; pause or stop it before changing its configuration")

// RunConfig is the input of one run. It is copied at Start and never
// changes while the run is active.
type RunConfig struct {
	Model           string
	PromptMode      PromptMode
	Prompt          string
	RequestCount    int
	Pacing          Pacing
	RequestInterval time.Duration // steady
	BurstSize       int           // burst
	BurstInterval   time.Duration // burst
	RateLimit       int           // requests/second ceiling, 0 = none
	Token           string
}

// DefaultConfig returns the settings a new box starts with.
func DefaultConfig() RunConfig {
	return RunConfig{
		PromptMode:      PromptRandom,
		RequestCount:    10,
		Pacing:          PacingSteady,
		RequestInterval: time.Second,
		BurstSize:       5,
		BurstInterval:   2 * time.Second,
	}
}

// configView is the wire form of RunConfig. Durations are milliseconds and
// the credential is never emitted.
type configView struct {
	Model             string     `json:"model" yaml:"model"`
	PromptMode        PromptMode `json:"prompt_mode" yaml:"prompt_mode"`
	Prompt            string     `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	RequestCount      int        `json:"request_count" yaml:"request_count"`
	Pacing            Pacing     `json:"pacing" yaml:"pacing"`
	RequestIntervalMs int64      `json:"request_interval_ms" yaml:"request_interval_ms"`
	BurstSize         int        `json:"burst_size" yaml:"burst_size"`
	BurstIntervalMs   int64      `json:"burst_interval_ms" yaml:"burst_interval_ms"`
	RateLimit         int        `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	HasToken          bool       `json:"has_token" yaml:"has_token"`
}

func (c RunConfig) view() configView {
	return configView{
		Model:             c.Model,
		PromptMode:        c.PromptMode,
		Prompt:            c.Prompt,
		RequestCount:      c.RequestCount,
		Pacing:            c.Pacing,
		RequestIntervalMs: c.RequestInterval.Milliseconds(),
		BurstSize:         c.BurstSize,
		BurstIntervalMs:   c.BurstInterval.Milliseconds(),
		RateLimit:         c.RateLimit,
		HasToken:          strings.TrimSpace(c.Token) != "",
	}
}

func (c RunConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.view())
}

// MarshalYAML implements yaml.Marshaler.
func (c RunConfig) MarshalYAML() (interface{}, error) {
	return c.view(), nil
}

// ValidationError aggregates every problem found in a configuration.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "invalid simulation config"
	}
	return fmt.Sprintf("invalid simulation config: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks that c can be started.
func (c RunConfig) Validate() error {
	var issues []string
	if strings.TrimSpace(c.Model) == "" {
		issues = append(issues, "model is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		issues = append(issues, "bearer token is required")
	}
	issues = append(issues, c.rangeIssues()...)
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// rangeIssues checks bounds only, so a box can be prepared before the
// model and credential are known.
func (c RunConfig) rangeIssues() []string {
	var issues []string

	switch c.PromptMode {
	case PromptRandom:
	case PromptFixed:
		if strings.TrimSpace(c.Prompt) == "" {
			issues = append(issues, "prompt is required when prompt_mode is fixed")
		}
	default:
		issues = append(issues, fmt.Sprintf("prompt_mode must be %q or %q", PromptFixed, PromptRandom))
	}

	if c.RequestCount < MinRequestCount || c.RequestCount > MaxRequestCount {
		issues = append(issues, fmt.Sprintf("request_count must be between %d and %d", MinRequestCount, MaxRequestCount))
	}

	switch c.Pacing {
	case PacingSteady:
		if c.RequestInterval < 0 || c.RequestInterval > MaxRequestInterval {
			issues = append(issues, fmt.Sprintf("request_interval must be between 0 and %s", MaxRequestInterval))
		}
	case PacingBurst:
		if c.BurstSize < MinBurstSize || c.BurstSize > MaxBurstSize {
			issues = append(issues, fmt.Sprintf("burst_size must be between %d and %d", MinBurstSize, MaxBurstSize))
		}
		if c.BurstInterval < MinBurstInterval || c.BurstInterval > MaxBurstInterval {
			issues = append(issues, fmt.Sprintf("burst_interval must be between %s and %s", MinBurstInterval, MaxBurstInterval))
		}
	default:
		issues = append(issues, fmt.Sprintf("pacing must be %q or %q", PacingSteady, PacingBurst))
	}

	if c.RateLimit < 0 {
		issues = append(issues, "rate_limit must be non-negative")
	}
	return issues
}

// ConfigPatch carries a partial configuration. Nil fields are left as is.
type ConfigPatch struct {
	Model           *string
	PromptMode      *PromptMode
	Prompt          *string
	RequestCount    *int
	Pacing          *Pacing
	RequestInterval *time.Duration
	BurstSize       *int
	BurstInterval   *time.Duration
	RateLimit       *int
	Token           *string
}

// Apply returns c with the patch merged in.
func (p ConfigPatch) Apply(c RunConfig) RunConfig {
	if p.Model != nil {
		c.Model = strings.TrimSpace(*p.Model)
	}
	if p.PromptMode != nil {
		c.PromptMode = *p.PromptMode
	}
	if p.Prompt != nil {
		c.Prompt = *p.Prompt
	}
	if p.RequestCount != nil {
		c.RequestCount = *p.RequestCount
	}
	if p.Pacing != nil {
		c.Pacing = *p.Pacing
	}
	if p.RequestInterval != nil {
		c.RequestInterval = *p.RequestInterval
	}
	if p.BurstSize != nil {
		c.BurstSize = *p.BurstSize
	}
	if p.BurstInterval != nil {
		c.BurstInterval = *p.BurstInterval
	}
	if p.RateLimit != nil {
		c.RateLimit = *p.RateLimit
	}
	if p.Token != nil {
		c.Token = strings.TrimSpace(*p.Token)
	}
	return c
}

// IsZero reports whether the patch changes nothing.
func (p ConfigPatch) IsZero() bool {
	return p == ConfigPatch{}
}
