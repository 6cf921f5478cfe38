package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/gatesim/internal/registry"
)

// TotalsSource is satisfied by *registry.Registry.
type TotalsSource interface {
	Totals() registry.Totals
}

// ProgressReporter rewrites a single status line at a fixed interval.
type ProgressReporter struct {
	source   TotalsSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

func NewProgressReporter(source TotalsSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and ends the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.source.Totals(), time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func progressLine(t registry.Totals, elapsed time.Duration) string {
	rps := 0.0
	if elapsed > 0 {
		rps = float64(t.Requests) / elapsed.Seconds()
	}
	line := fmt.Sprintf("\rRequests: %d | Successes: %d | Errors: %d | Tokens: %d | RPS: %.1f",
		t.Requests, t.Successes, t.Errors, t.Tokens, rps)
	if t.Boxes > 1 {
		line += fmt.Sprintf(" | Boxes: %d running, %d paused", t.Running, t.Paused)
	}
	return line
}
