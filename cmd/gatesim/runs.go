package main

import (
	"fmt"

	"github.com/torosent/gatesim/internal/config"
	"github.com/torosent/gatesim/internal/runner"
)

type plannedRun struct {
	name string
	cfg  runner.RunConfig
}

// baseRunConfig maps the top-level settings onto a run configuration.
func baseRunConfig(cfg *config.Config) runner.RunConfig {
	return runner.RunConfig{
		Model:           cfg.Model,
		PromptMode:      runner.PromptMode(cfg.PromptMode),
		Prompt:          cfg.Prompt,
		RequestCount:    cfg.Requests,
		Pacing:          runner.Pacing(cfg.Pacing),
		RequestInterval: cfg.Interval,
		BurstSize:       cfg.BurstSize,
		BurstInterval:   cfg.BurstInterval,
		RateLimit:       cfg.Rate,
		Token:           cfg.Token,
	}
}

// plannedRuns expands the runs list, or --boxes copies of the base config
// when no list is given.
func plannedRuns(cfg *config.Config) []plannedRun {
	base := baseRunConfig(cfg)
	if len(cfg.Runs) == 0 {
		n := max(cfg.Boxes, 1)
		out := make([]plannedRun, 0, n)
		for i := 0; i < n; i++ {
			name := ""
			if n > 1 {
				name = fmt.Sprintf("Box %d", i+1)
			}
			out = append(out, plannedRun{name: name, cfg: base})
		}
		return out
	}

	out := make([]plannedRun, 0, len(cfg.Runs))
	for _, o := range cfg.Runs {
		out = append(out, plannedRun{name: o.Name, cfg: applyOverrides(base, o)})
	}
	return out
}

func applyOverrides(c runner.RunConfig, o config.RunEntry) runner.RunConfig {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Token != "" {
		c.Token = o.Token
	}
	if o.PromptMode != "" {
		c.PromptMode = runner.PromptMode(o.PromptMode)
	}
	if o.Prompt != "" {
		c.Prompt = o.Prompt
	}
	if o.Pacing != "" {
		c.Pacing = runner.Pacing(o.Pacing)
	}
	if o.Requests != nil {
		c.RequestCount = *o.Requests
	}
	if o.Interval != nil {
		c.RequestInterval = *o.Interval
	}
	if o.BurstSize != nil {
		c.BurstSize = *o.BurstSize
	}
	if o.BurstInterval != nil {
		c.BurstInterval = *o.BurstInterval
	}
	if o.Rate != nil {
		c.RateLimit = *o.Rate
	}
	return c
}
