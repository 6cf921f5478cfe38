package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/torosent/gatesim/internal/metrics"
	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
	"github.com/torosent/gatesim/internal/threshold"
)

// Report is the final result of a headless session.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Target      string             `json:"target" yaml:"target"`
	Totals      registry.Totals    `json:"totals" yaml:"totals"`
	Aggregate   metrics.Stats      `json:"aggregate" yaml:"aggregate"`
	Runs        []runner.Snapshot  `json:"runs" yaml:"runs"`
	Thresholds  []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Passed reports whether every threshold passed. A report without
// thresholds always passes.
func (r Report) Passed() bool {
	return threshold.AllPass(r.Thresholds)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Aggregate
	fmt.Fprintln(w, "\n--- Simulation Results ---")
	if r.Target != "" {
		fmt.Fprintf(w, "Gateway:           %s\n", r.Target)
	}
	fmt.Fprintf(w, "Boxes:             %d\n", r.Totals.Boxes)
	fmt.Fprintf(w, "Total Requests:    %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	fmt.Fprintf(w, "Timeouts:          %d\n", stats.Timeouts)
	fmt.Fprintf(w, "Tokens:            %d\n", stats.Tokens)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)
	fmt.Fprintf(w, "Tokens/sec:        %.2f\n", stats.TokensPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if buckets := metrics.FlattenErrors(stats.Errors); len(buckets) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, b := range buckets {
			fmt.Fprintf(w, "  %s: %d\n", b.Label, b.Count)
		}
	}

	if len(r.Runs) > 0 {
		fmt.Fprintln(w, "\nRuns:")
		for _, run := range r.Runs {
			fmt.Fprintf(w,
				"  - %s [%s]: %s, %d/%d settled, successes=%d, errors=%d, avg=%.1fms, tokens=%d\n",
				run.Name,
				run.Config.Model,
				run.Status,
				run.Stats.Total,
				run.Config.RequestCount,
				run.Stats.Successes,
				run.Stats.Errors,
				run.Stats.AvgLatencyMs,
				run.Stats.Tokens,
			)
			if run.Err != "" {
				fmt.Fprintf(w, "    error: %s\n", run.Err)
			}
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
		if r.Passed() {
			fmt.Fprintln(w, "  All thresholds passed")
		} else {
			fmt.Fprintln(w, "  Some thresholds failed")
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteReportFile writes r to path. The format follows the extension:
// .json, .yaml/.yml, anything else is text. A sibling lock file keeps
// concurrent gatesim processes from interleaving writes to the same report.
func WriteReportFile(path string, r Report) error {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := PrintJSONReport(&buf, r); err != nil {
			return err
		}
	case ".yaml", ".yml":
		if err := PrintYAMLReport(&buf, r); err != nil {
			return err
		}
	default:
		PrintReport(&buf, r)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}
