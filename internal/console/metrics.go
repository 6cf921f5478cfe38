package console

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

// collector exports registry state at scrape time, so values never drift
// from what the REST endpoints report.
type collector struct {
	reg *registry.Registry

	boxes    *prometheus.Desc
	requests *prometheus.Desc
	tokens   *prometheus.Desc
	latency  *prometheus.Desc
	progress *prometheus.Desc
}

func newCollector(reg *registry.Registry) *collector {
	runLabels := []string{"run_id", "run"}
	return &collector{
		reg: reg,
		boxes: prometheus.NewDesc("gatesim_boxes",
			"Simulation boxes by lifecycle status.", []string{"status"}, nil),
		requests: prometheus.NewDesc("gatesim_run_requests_total",
			"Settled requests per run by outcome.", append(runLabels, "outcome"), nil),
		tokens: prometheus.NewDesc("gatesim_run_tokens_total",
			"Tokens reported by the gateway per run.", runLabels, nil),
		latency: prometheus.NewDesc("gatesim_run_avg_latency_seconds",
			"Mean latency of settled requests per run.", runLabels, nil),
		progress: prometheus.NewDesc("gatesim_run_progress_ratio",
			"Fraction of the run's requests that have been issued or settled.", runLabels, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.boxes
	ch <- c.requests
	ch <- c.tokens
	ch <- c.latency
	ch <- c.progress
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	runs := c.reg.List()

	byStatus := map[runner.Status]int{
		runner.StatusIdle:      0,
		runner.StatusRunning:   0,
		runner.StatusPaused:    0,
		runner.StatusCompleted: 0,
		runner.StatusError:     0,
	}
	for _, run := range runs {
		byStatus[run.Status]++
	}
	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.boxes, prometheus.GaugeValue, float64(n), string(status))
	}

	for _, run := range runs {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
			float64(run.Stats.Successes), run.ID, run.Name, "success")
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue,
			float64(run.Stats.Errors), run.ID, run.Name, "error")
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.CounterValue,
			float64(run.Stats.Tokens), run.ID, run.Name)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue,
			run.Stats.AvgLatencyMs/1000, run.ID, run.Name)
		ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue,
			run.Progress/100, run.ID, run.Name)
	}
}
