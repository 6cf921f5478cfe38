package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gatesim",
		Short:         "Simulate chat completion load against an AI gateway",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Gateway
	flags.String("target", "", "Gateway base URL (e.g. https://gateway.example.com)")
	flags.String("path", "", "Chat completions path (default /v1/chat/completions)")
	flags.String("token", "", "Bearer token for the gateway (or set "+TokenEnv+")")
	flags.String("model", "", "Model name sent with every request")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout (0 disables)")

	// Prompts
	flags.String("prompt-mode", PromptModeRandom, "Prompt source: 'fixed' or 'random'")
	flags.String("prompt", "", "Prompt text for fixed prompt mode")

	// Pacing
	flags.IntP("requests", "n", 10, "Requests per run (1-10000)")
	flags.String("pacing", PacingSteady, "Pacing policy: 'steady' or 'burst'")
	flags.Duration("interval", time.Second, "Delay between steady requests (0-30s)")
	flags.Int("burst-size", 5, "Requests per burst (1-100)")
	flags.Duration("burst-interval", 2*time.Second, "Delay between bursts (100ms-60s)")
	flags.IntP("rate", "r", 0, "Requests per second ceiling per box (0 means unlimited)")
	flags.IntP("boxes", "b", 1, "Number of identical simulation boxes to run")

	// Modes
	flags.BoolP("interactive", "i", false, "Open the interactive terminal console")
	flags.String("serve", "", "Serve the HTTP console on this address (e.g. :8080)")
	flags.Bool("dashboard", false, "Show live terminal dashboard during a headless run")

	// Output
	flags.Bool("json-output", false, "Emit the final report as JSON")
	flags.Bool("yaml-output", false, "Emit the final report as YAML")
	flags.String("report-file", "", "Also write the final report to this file (.json, .yaml or .txt)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", LogFormatConsole, "Log format: 'console' or 'json'")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Thresholds
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'latency:p99 < 800')")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP endpoint for traces (or set OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported with traces")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", false, "Send W3C trace context to the gateway (defaults to on when tracing is enabled)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := []struct {
		flag string
		dst  *string
		norm func(string) string
	}{
		{"target", &cfg.TargetURL, strings.TrimSpace},
		{"path", &cfg.Path, strings.TrimSpace},
		{"token", &cfg.Token, strings.TrimSpace},
		{"model", &cfg.Model, strings.TrimSpace},
		{"prompt-mode", &cfg.PromptMode, lowerTrim},
		{"prompt", &cfg.Prompt, nil},
		{"pacing", &cfg.Pacing, lowerTrim},
		{"serve", &cfg.Serve, strings.TrimSpace},
		{"report-file", &cfg.ReportFile, strings.TrimSpace},
		{"log-level", &cfg.LogLevel, lowerTrim},
		{"log-format", &cfg.LogFormat, lowerTrim},
		{"tracing-endpoint", &cfg.Tracing.Endpoint, strings.TrimSpace},
		{"tracing-protocol", &cfg.Tracing.Protocol, lowerTrim},
		{"tracing-service-name", &cfg.Tracing.ServiceName, strings.TrimSpace},
	}
	for _, s := range strs {
		if !fs.Changed(s.flag) {
			continue
		}
		val, err := fs.GetString(s.flag)
		if err != nil {
			return err
		}
		if s.norm != nil {
			val = s.norm(val)
		}
		*s.dst = val
	}

	ints := []struct {
		flag string
		dst  *int
	}{
		{"requests", &cfg.Requests},
		{"burst-size", &cfg.BurstSize},
		{"rate", &cfg.Rate},
		{"boxes", &cfg.Boxes},
	}
	for _, i := range ints {
		if !fs.Changed(i.flag) {
			continue
		}
		val, err := fs.GetInt(i.flag)
		if err != nil {
			return err
		}
		*i.dst = val
	}

	durs := []struct {
		flag string
		dst  *time.Duration
	}{
		{"timeout", &cfg.Timeout},
		{"interval", &cfg.Interval},
		{"burst-interval", &cfg.BurstInterval},
	}
	for _, d := range durs {
		if !fs.Changed(d.flag) {
			continue
		}
		val, err := fs.GetDuration(d.flag)
		if err != nil {
			return err
		}
		*d.dst = val
	}

	bools := []struct {
		flag string
		dst  *bool
	}{
		{"interactive", &cfg.Interactive},
		{"dashboard", &cfg.Dashboard},
		{"json-output", &cfg.JSONOutput},
		{"yaml-output", &cfg.YAMLOutput},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, b := range bools {
		if !fs.Changed(b.flag) {
			continue
		}
		val, err := fs.GetBool(b.flag)
		if err != nil {
			return err
		}
		*b.dst = val
	}

	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return nil
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
