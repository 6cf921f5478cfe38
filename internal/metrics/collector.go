package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector aggregates settled request outcomes for one run. It is safe for
// concurrent use.
type Collector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	timeouts   int64
	tokens     int64
	minLatency time.Duration
	maxLatency time.Duration
	// meanMs is maintained incrementally so that the value observed
	// mid-run matches what a live view shows after each settlement.
	meanMs       float64
	errorsByType map[string]int64
}

// Stats is a point-in-time aggregate.
type Stats struct {
	Total          int64         `json:"total" yaml:"total"`
	Successes      int64         `json:"successes" yaml:"successes"`
	Failures       int64         `json:"failures" yaml:"failures"`
	Timeouts       int64         `json:"timeouts" yaml:"timeouts"`
	Tokens         int64         `json:"tokens" yaml:"tokens"`
	MinLatency     time.Duration `json:"-" yaml:"-"`
	MaxLatency     time.Duration `json:"-" yaml:"-"`
	MeanLatency    time.Duration `json:"-" yaml:"-"`
	P50Latency     time.Duration `json:"-" yaml:"-"`
	P90Latency     time.Duration `json:"-" yaml:"-"`
	P99Latency     time.Duration `json:"-" yaml:"-"`
	Duration       time.Duration `json:"-" yaml:"-"`
	RequestsPerSec float64       `json:"requests_per_sec" yaml:"requests_per_sec"`
	TokensPerSec   float64       `json:"tokens_per_sec" yaml:"tokens_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64        `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	DurationMs    float64        `json:"duration_ms" yaml:"duration_ms"`
	Errors        map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:         h,
		errorsByType: make(map[string]int64),
	}
}

// RecordRequest records one settled request. A nil err counts as success;
// tokens are added regardless of outcome.
func (c *Collector) RecordRequest(latency time.Duration, tokens int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordLatency(latency)

	prev := c.successes + c.failures
	ms := float64(latency) / float64(time.Millisecond)
	c.meanMs = (c.meanMs*float64(prev) + ms) / float64(prev+1)

	if tokens > 0 {
		c.tokens += tokens
	}

	if err == nil {
		c.successes++
		return
	}
	c.failures++
	if IsTimeout(err) {
		c.timeouts++
	}
	c.errorsByType[ErrorLabel(err)]++
}

func (c *Collector) recordLatency(latency time.Duration) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
}

// Total returns the number of settled requests.
func (c *Collector) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes + c.failures
}

// Merge folds src into c. Used to build cross-run aggregates.
func (c *Collector) Merge(src *Collector) {
	if src == nil || src == c {
		return
	}
	src.mu.Lock()
	hist := hdrhistogram.Import(src.hist.Export())
	successes, failures, timeouts, tokens := src.successes, src.failures, src.timeouts, src.tokens
	minLatency, maxLatency, meanMs := src.minLatency, src.maxLatency, src.meanMs
	errs := make(map[string]int64, len(src.errorsByType))
	for k, v := range src.errorsByType {
		errs[k] = v
	}
	src.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := successes + failures
	if count == 0 {
		return
	}
	prev := c.successes + c.failures
	c.meanMs = (c.meanMs*float64(prev) + meanMs*float64(count)) / float64(prev+count)
	c.hist.Merge(hist)
	c.successes += successes
	c.failures += failures
	c.timeouts += timeouts
	c.tokens += tokens
	if c.minLatency == 0 || (minLatency > 0 && minLatency < c.minLatency) {
		c.minLatency = minLatency
	}
	if maxLatency > c.maxLatency {
		c.maxLatency = maxLatency
	}
	for k, v := range errs {
		c.errorsByType[k] += v
	}
}

// Stats computes aggregated statistics over elapsed wall time.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:      total,
		Successes:  c.successes,
		Failures:   c.failures,
		Timeouts:   c.timeouts,
		Tokens:     c.tokens,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(c.meanMs * float64(time.Millisecond))
	}
	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = c.meanMs
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
		stats.TokensPerSec = float64(c.tokens) / elapsed.Seconds()
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

// ErrorRate returns failures over total, 0 when nothing settled.
func (s Stats) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Total)
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
