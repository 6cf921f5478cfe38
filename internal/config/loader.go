package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// Getenv is used for environment fallbacks; os.Getenv when nil.
	Getenv func(string) string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Defaults returns the configuration used before the file and flags apply.
func Defaults() Config {
	return Config{
		PromptMode:    PromptModeRandom,
		Requests:      10,
		Pacing:        PacingSteady,
		Interval:      time.Second,
		BurstSize:     5,
		BurstInterval: 2 * time.Second,
		Boxes:         1,
		Timeout:       30 * time.Second,
		LogLevel:      "info",
		LogFormat:     LogFormatConsole,
		Tracing:       TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if cfg.Token == "" {
		cfg.Token = strings.TrimSpace(getenv(TokenEnv))
	}

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	strs := []struct {
		dst  *string
		norm func(string) string
		keys []string
	}{
		{&cfg.TargetURL, strings.TrimSpace, []string{"target"}},
		{&cfg.Path, strings.TrimSpace, []string{"path"}},
		{&cfg.Token, strings.TrimSpace, []string{"token"}},
		{&cfg.Model, strings.TrimSpace, []string{"model"}},
		{&cfg.PromptMode, lowerTrim, []string{"promptmode", "prompt_mode", "prompt-mode"}},
		{&cfg.Prompt, nil, []string{"prompt"}},
		{&cfg.Pacing, lowerTrim, []string{"pacing"}},
		{&cfg.Serve, strings.TrimSpace, []string{"serve"}},
		{&cfg.ReportFile, strings.TrimSpace, []string{"reportfile", "report_file", "report-file"}},
		{&cfg.LogLevel, lowerTrim, []string{"loglevel", "log_level", "log-level"}},
		{&cfg.LogFormat, lowerTrim, []string{"logformat", "log_format", "log-format"}},
	}
	for _, s := range strs {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		if s.norm != nil {
			val = s.norm(val)
		}
		*s.dst = val
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&cfg.Requests, []string{"requests"}},
		{&cfg.BurstSize, []string{"burstsize", "burst_size", "burst-size"}},
		{&cfg.Rate, []string{"rate"}},
		{&cfg.Boxes, []string{"boxes"}},
	}
	for _, i := range ints {
		raw, ok := lookupSetting(settings, i.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", i.keys[0], err)
		}
		*i.dst = val
	}

	durs := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&cfg.Timeout, []string{"timeout"}},
		{&cfg.Interval, []string{"interval"}},
		{&cfg.BurstInterval, []string{"burstinterval", "burst_interval", "burst-interval"}},
	}
	for _, d := range durs {
		raw, ok := lookupSetting(settings, d.keys...)
		if !ok {
			continue
		}
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.keys[0], err)
		}
		*d.dst = val
	}

	bools := []struct {
		dst  *bool
		keys []string
	}{
		{&cfg.JSONOutput, []string{"jsonoutput", "json_output", "json-output"}},
		{&cfg.YAMLOutput, []string{"yamloutput", "yaml_output", "yaml-output"}},
		{&cfg.Dashboard, []string{"dashboard"}},
		{&cfg.Interactive, []string{"interactive"}},
	}
	for _, b := range bools {
		raw, ok := lookupSetting(settings, b.keys...)
		if !ok {
			continue
		}
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", b.keys[0], err)
		}
		*b.dst = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "runs"); ok {
		runs, err := parseRuns(raw)
		if err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		cfg.Runs = runs
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func parseRuns(value interface{}) ([]RunEntry, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	runs := make([]RunEntry, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		run, err := buildRunEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func buildRunEntry(settings map[string]interface{}) (RunEntry, error) {
	var run RunEntry
	strs := []struct {
		dst  *string
		norm func(string) string
		keys []string
	}{
		{&run.Name, strings.TrimSpace, []string{"name"}},
		{&run.Model, strings.TrimSpace, []string{"model"}},
		{&run.Token, strings.TrimSpace, []string{"token"}},
		{&run.PromptMode, lowerTrim, []string{"promptmode", "prompt_mode", "prompt-mode"}},
		{&run.Prompt, nil, []string{"prompt"}},
		{&run.Pacing, lowerTrim, []string{"pacing"}},
	}
	for _, s := range strs {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return RunEntry{}, fmt.Errorf("%s: %w", s.keys[0], err)
		}
		if s.norm != nil {
			val = s.norm(val)
		}
		*s.dst = val
	}

	ints := []struct {
		dst  **int
		keys []string
	}{
		{&run.Requests, []string{"requests"}},
		{&run.BurstSize, []string{"burstsize", "burst_size", "burst-size"}},
		{&run.Rate, []string{"rate"}},
	}
	for _, i := range ints {
		raw, ok := lookupSetting(settings, i.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return RunEntry{}, fmt.Errorf("%s: %w", i.keys[0], err)
		}
		*i.dst = &val
	}

	durs := []struct {
		dst  **time.Duration
		keys []string
	}{
		{&run.Interval, []string{"interval"}},
		{&run.BurstInterval, []string{"burstinterval", "burst_interval", "burst-interval"}},
	}
	for _, d := range durs {
		raw, ok := lookupSetting(settings, d.keys...)
		if !ok {
			continue
		}
		val, err := asDuration(raw)
		if err != nil {
			return RunEntry{}, fmt.Errorf("%s: %w", d.keys[0], err)
		}
		*d.dst = &val
	}
	return run, nil
}

func applyTracing(t *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = lowerTrim(val)
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}
