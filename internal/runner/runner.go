package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/torosent/gatesim/internal/auth"
	"github.com/torosent/gatesim/internal/httpclient"
	"github.com/torosent/gatesim/internal/metrics"
	"github.com/torosent/gatesim/internal/tracing"
)

// Runner drives one simulation box. All methods are safe for concurrent use.
type Runner struct {
	id   string
	name string
	opt  Options
	log  *zap.Logger

	mu        sync.Mutex
	cfg       RunConfig // applied to the next Start
	runCfg    RunConfig // in effect for the current run
	status    Status
	issued    int
	progress  float64
	entries   []LogEntry
	collector *metrics.Collector
	startedAt time.Time
	endedAt   time.Time
	errText   string
	version   uint64

	// gen identifies the current run. Outcomes tagged with an older
	// generation are dropped.
	gen    uint64
	cancel context.CancelFunc
	gate   *gate
	done   chan struct{}
}

// New returns an idle Runner.
func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		id:        opt.ID,
		name:      opt.Name,
		opt:       opt,
		log:       opt.Logger.With(zap.String("run_id", opt.ID), zap.String("run", opt.Name)),
		cfg:       opt.Config,
		status:    StatusIdle,
		collector: metrics.NewCollector(),
	}
}

func (r *Runner) ID() string   { return r.id }
func (r *Runner) Name() string { return r.name }

// Config returns the configuration the next Start would use.
func (r *Runner) Config() RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Status returns the current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// UpdateConfig merges patch into the stored configuration. It is rejected
// with ErrRunActive while the run is running; while paused the change only
// affects the next run.
func (r *Runner) UpdateConfig(patch ConfigPatch) error {
	r.mu.Lock()
	if r.status == StatusRunning {
		r.mu.Unlock()
		return ErrRunActive
	}
	next := patch.Apply(r.cfg)
	if issues := next.rangeIssues(); len(issues) > 0 {
		r.mu.Unlock()
		return ValidationError{issues: issues}
	}
	r.cfg = next
	r.touchLocked()
	r.mu.Unlock()
	r.opt.Notify(r.id)
	return nil
}

// Start validates cfg and begins a new run. It is a no-op while a run is
// running or paused. Validation errors leave the runner untouched.
func (r *Runner) Start(cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if r.opt.Completer == nil {
		return errors.New("runner has no completer configured")
	}

	r.mu.Lock()
	if r.status.Active() {
		r.mu.Unlock()
		return nil
	}
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.cfg = cfg
	r.runCfg = cfg
	r.status = StatusRunning
	r.issued = 0
	r.progress = 0
	r.entries = make([]LogEntry, 0, cfg.RequestCount)
	r.collector = metrics.NewCollector()
	r.startedAt = time.Now()
	r.endedAt = time.Time{}
	r.errText = ""
	r.gate = newGate()
	r.done = make(chan struct{})
	g, done := r.gate, r.done
	r.touchLocked()
	r.mu.Unlock()

	r.log.Info("simulation started",
		zap.String("model", cfg.Model),
		zap.String("pacing", string(cfg.Pacing)),
		zap.Int("requests", cfg.RequestCount),
	)
	r.opt.Notify(r.id)

	go func() {
		defer close(done)
		defer cancel()
		r.finish(ctx, gen, r.drive(ctx, gen, cfg, g))
	}()
	return nil
}

// Pause suspends new submissions. It is a no-op unless the run is running.
func (r *Runner) Pause() {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusPaused
	r.gate.pause()
	r.touchLocked()
	r.mu.Unlock()

	r.log.Info("simulation paused")
	r.opt.Notify(r.id)
}

// Resume continues a paused run. It is a no-op unless the run is paused.
func (r *Runner) Resume() {
	r.mu.Lock()
	if r.status != StatusPaused {
		r.mu.Unlock()
		return
	}
	r.status = StatusRunning
	r.gate.resume()
	r.touchLocked()
	r.mu.Unlock()

	r.log.Info("simulation resumed")
	r.opt.Notify(r.id)
}

// Stop cancels the run and every in-flight request, and marks the run
// completed right away. Outcomes that arrive afterwards are discarded.
// Stop is idempotent and also valid on an idle box.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.status = StatusCompleted
	r.endedAt = time.Now()
	issued := r.issued
	r.touchLocked()
	r.mu.Unlock()

	r.log.Info("simulation stopped", zap.Int("issued", issued))
	r.opt.Notify(r.id)
}

// Wait blocks until the current run's loop has exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the full state including the request log.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summaryLocked()
	s.Log = append([]LogEntry(nil), r.entries...)
	return s
}

// Summary returns the state without the request log.
func (r *Runner) Summary() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

// MergeMetrics folds the current run's latency data into dst.
func (r *Runner) MergeMetrics(dst *metrics.Collector) {
	r.mu.Lock()
	c := r.collector
	r.mu.Unlock()
	dst.Merge(c)
}

func (r *Runner) summaryLocked() Snapshot {
	cfg := r.cfg
	if r.status.Active() {
		cfg = r.runCfg
	}
	stats := r.collector.Stats(Statistics{StartedAt: r.startedAt, EndedAt: r.endedAt}.Elapsed(time.Now()))
	return Snapshot{
		ID:       r.id,
		Name:     r.name,
		Status:   r.status,
		Progress: r.progress,
		Issued:   r.issued,
		Stats: Statistics{
			Total:        stats.Total,
			Successes:    stats.Successes,
			Errors:       stats.Failures,
			AvgLatencyMs: stats.MeanLatencyMs,
			Tokens:       stats.Tokens,
			StartedAt:    r.startedAt,
			EndedAt:      r.endedAt,
		},
		Metrics: stats,
		Config:  cfg,
		Err:     r.errText,
		Version: r.version,
	}
}

func (r *Runner) touchLocked() {
	r.version++
}

// drive runs the pacing loop. A panic inside it becomes the returned error.
func (r *Runner) drive(ctx context.Context, gen uint64, cfg RunConfig, g *gate) (err error) {
	ctx, span := tracing.StartRunSpan(ctx, r.opt.Tracer, r.id, r.name,
		attribute.String("gatesim.pacing", string(cfg.Pacing)),
		attribute.Int("gatesim.request_count", cfg.RequestCount),
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("simulation loop panicked: %v", p)
		}
		tracing.EndSpan(span, err)
	}()

	ex := &executor{
		r:        r,
		gen:      gen,
		cfg:      cfg,
		gate:     g,
		provider: auth.NewStaticTokenProvider(cfg.Token),
		limiter:  r.opt.LimiterFactory(cfg.RateLimit),
	}
	if cfg.Pacing == PacingBurst {
		return ex.runBurst(ctx)
	}
	return ex.runSteady(ctx)
}

// finish moves the run to its terminal state unless it was stopped or
// superseded.
func (r *Runner) finish(ctx context.Context, gen uint64, err error) {
	r.mu.Lock()
	if r.gen != gen || r.status.Terminal() || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.endedAt = time.Now()
	if err != nil {
		r.status = StatusError
		r.errText = err.Error()
	} else {
		r.status = StatusCompleted
		r.progress = 100
	}
	summary := r.summaryLocked()
	r.touchLocked()
	r.mu.Unlock()

	if err != nil {
		r.log.Error("simulation failed", zap.Error(err))
	} else {
		r.log.Info("simulation completed",
			zap.Int64("total", summary.Stats.Total),
			zap.Int64("successes", summary.Stats.Successes),
			zap.Int64("errors", summary.Stats.Errors),
			zap.Float64("avg_latency_ms", summary.Stats.AvgLatencyMs),
			zap.Int64("tokens", summary.Stats.Tokens),
		)
	}
	r.opt.Notify(r.id)
}

// executor carries the per-run state shared by the pacing loop and its
// request goroutines.
type executor struct {
	r        *Runner
	gen      uint64
	cfg      RunConfig
	gate     *gate
	provider httpclient.AuthProvider
	limiter  *rate.Limiter
}

func (ex *executor) runSteady(ctx context.Context) error {
	var inflight sync.WaitGroup
	for i := 0; i < ex.cfg.RequestCount; i++ {
		entries, err := ex.admit(ctx, i, 1, 0)
		if err != nil {
			return err
		}
		inflight.Add(1)
		go func(entry LogEntry) {
			defer inflight.Done()
			ex.issue(ctx, entry)
		}(entries[0])

		if i < ex.cfg.RequestCount-1 {
			if err := ex.gate.sleep(ctx, ex.cfg.RequestInterval); err != nil {
				return err
			}
		}
	}
	inflight.Wait()
	return ctx.Err()
}

func (ex *executor) runBurst(ctx context.Context) error {
	batch := 0
	for next := 0; next < ex.cfg.RequestCount; {
		size := min(ex.cfg.BurstSize, ex.cfg.RequestCount-next)
		batch++
		entries, err := ex.admit(ctx, next, size, batch)
		if err != nil {
			return err
		}

		var group errgroup.Group
		for _, entry := range entries {
			group.Go(func() error {
				ex.issue(ctx, entry)
				return nil
			})
		}
		_ = group.Wait()
		next += size

		if err := ctx.Err(); err != nil {
			return err
		}
		ex.r.batchSettled(ex.gen, next, ex.cfg.RequestCount)

		if next < ex.cfg.RequestCount {
			if err := ex.gate.sleep(ctx, ex.cfg.BurstInterval); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// admit appends pending entries for indexes [start, start+size) once the
// rate limiter grants size tokens and the run is not paused. Admission and
// the pause check happen under one lock, so a paused run never submits.
func (ex *executor) admit(ctx context.Context, start, size, batch int) ([]LogEntry, error) {
	r := ex.r
	reserved := false
	for {
		if err := ex.gate.wait(ctx); err != nil {
			return nil, err
		}
		if !reserved {
			if err := ex.reserve(ctx, size); err != nil {
				return nil, err
			}
			reserved = true
		}
		r.mu.Lock()
		if r.gen != ex.gen || !r.status.Active() {
			r.mu.Unlock()
			return nil, context.Canceled
		}
		if r.status == StatusPaused {
			r.mu.Unlock()
			continue
		}
		now := time.Now()
		entries := make([]LogEntry, 0, size)
		for i := start; i < start+size; i++ {
			prompt := buildPrompt(ex.cfg, i, r.opt.Pick)
			entry := LogEntry{
				Index:       i,
				Batch:       batch,
				SubmittedAt: now,
				Status:      EntryPending,
				Model:       ex.cfg.Model,
				Prompt:      prompt,
			}
			entries = append(entries, entry)
			entry.Prompt = truncatePrompt(prompt)
			r.entries = append(r.entries, entry)
		}
		r.issued = start + size
		if ex.cfg.Pacing == PacingSteady {
			r.advanceLocked(r.issued, ex.cfg.RequestCount)
		}
		r.touchLocked()
		r.mu.Unlock()
		r.opt.Notify(r.id)
		return entries, nil
	}
}

// reserve takes n tokens from the limiter one at a time, since its burst
// is one.
func (ex *executor) reserve(ctx context.Context, n int) error {
	for range n {
		if err := ex.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// issue performs one request and records its outcome. entry carries the
// full prompt; the logged copy is truncated for display.
func (ex *executor) issue(ctx context.Context, entry LogEntry) {
	started := time.Now()
	res, err := ex.r.opt.Completer.Complete(ctx, httpclient.Request{
		Model:  ex.cfg.Model,
		Prompt: entry.Prompt,
		Auth:   ex.provider,
	})
	latency := res.Latency
	if latency <= 0 {
		latency = time.Since(started)
	}
	if ctx.Err() != nil {
		// Stopped or removed: the outcome is discarded, not logged.
		return
	}
	ex.r.settle(ex.gen, entry.Index, res, latency, err)
}

func (r *Runner) settle(gen uint64, index int, res httpclient.Completion, latency time.Duration, err error) {
	r.mu.Lock()
	if r.gen != gen || r.status.Terminal() || index >= len(r.entries) {
		r.mu.Unlock()
		return
	}
	e := &r.entries[index]
	e.Duration = latency
	e.DurationMs = float64(latency) / float64(time.Millisecond)
	e.StatusCode = res.StatusCode
	if res.Model != "" {
		e.Model = res.Model
	}

	var tokens int64
	switch {
	case err == nil:
		e.Status = EntrySuccess
		tokens = res.Tokens
		e.Tokens = tokens
	case httpclient.IsTimeout(err):
		e.Status = EntryTimeout
		e.Error = err.Error()
	default:
		e.Status = EntryError
		e.Error = describeError(err)
	}
	r.collector.RecordRequest(latency, tokens, err)
	r.touchLocked()
	r.mu.Unlock()

	if err != nil {
		r.log.Debug("request failed", zap.Int("index", index), zap.Error(err))
	}
	r.opt.Notify(r.id)
}

// batchSettled publishes burst progress once a whole batch has settled.
func (r *Runner) batchSettled(gen uint64, issued, total int) {
	r.mu.Lock()
	if r.gen != gen || !r.status.Active() {
		r.mu.Unlock()
		return
	}
	r.advanceLocked(issued, total)
	r.touchLocked()
	r.mu.Unlock()
	r.opt.Notify(r.id)
}

// advanceLocked raises progress; it never moves backwards.
func (r *Runner) advanceLocked(issued, total int) {
	if total <= 0 {
		return
	}
	p := float64(issued) / float64(total) * 100
	if p > r.progress {
		r.progress = p
	}
}

func describeError(err error) string {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("HTTP %d", httpErr.StatusCode)
	}
	return err.Error()
}
