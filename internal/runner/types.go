package runner

import (
	"time"

	"github.com/torosent/gatesim/internal/metrics"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Active reports whether the run is running or paused.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// EntryStatus is the outcome of a single request.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySuccess EntryStatus = "success"
	EntryError   EntryStatus = "error"
	EntryTimeout EntryStatus = "timeout"
)

// LogEntry records one attempted request. Index is the position in the
// run's log; settlement can happen out of order in burst mode, so look
// entries up by Index.
type LogEntry struct {
	Index       int           `json:"index" yaml:"index"`
	Batch       int           `json:"batch,omitempty" yaml:"batch,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at" yaml:"submitted_at"`
	Status      EntryStatus   `json:"status" yaml:"status"`
	Duration    time.Duration `json:"-" yaml:"-"`
	DurationMs  float64       `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	StatusCode  int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Tokens      int64         `json:"tokens" yaml:"tokens"`
	Model       string        `json:"model" yaml:"model"`
	Prompt      string        `json:"prompt" yaml:"prompt"`
}

// Statistics are the running totals of a run.
type Statistics struct {
	Total        int64     `json:"total" yaml:"total"`
	Successes    int64     `json:"successes" yaml:"successes"`
	Errors       int64     `json:"errors" yaml:"errors"`
	AvgLatencyMs float64   `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	Tokens       int64     `json:"tokens" yaml:"tokens"`
	StartedAt    time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt      time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// Snapshot is a copy of a run's state. Callers own it.
type Snapshot struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	Status   Status        `json:"status" yaml:"status"`
	Progress float64       `json:"progress" yaml:"progress"`
	Issued   int           `json:"issued" yaml:"issued"`
	Stats    Statistics    `json:"stats" yaml:"stats"`
	Metrics  metrics.Stats `json:"metrics" yaml:"metrics"`
	Config   RunConfig     `json:"config" yaml:"config"`
	Err      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Version  uint64        `json:"version" yaml:"version"`
	Log      []LogEntry    `json:"log,omitempty" yaml:"log,omitempty"`
}

// Elapsed returns the run's wall time so far, or its total once ended.
func (s Statistics) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
