// Package registry holds the simulation boxes of one process side by side.
// Boxes are independent; the registry only routes commands by identity and
// computes cross-run totals on demand.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/gatesim/internal/metrics"
	"github.com/torosent/gatesim/internal/runner"
)

// ErrNotFound is returned for an unknown run identity.
var ErrNotFound = errors.New("simulation not found")

// Options configure a Registry.
type Options struct {
	Completer      runner.Completer
	Defaults       runner.RunConfig // config for new boxes, runner.DefaultConfig when zero
	Logger         *zap.Logger
	Tracer         trace.Tracer
	LimiterFactory func(rps int) *rate.Limiter
	NewID          func() string
}

// Totals aggregate every box in the registry.
type Totals struct {
	Boxes     int   `json:"boxes" yaml:"boxes"`
	Running   int   `json:"running" yaml:"running"`
	Paused    int   `json:"paused" yaml:"paused"`
	Requests  int64 `json:"requests" yaml:"requests"`
	Successes int64 `json:"successes" yaml:"successes"`
	Errors    int64 `json:"errors" yaml:"errors"`
	Tokens    int64 `json:"tokens" yaml:"tokens"`
}

// Registry is safe for concurrent use.
type Registry struct {
	opt Options
	log *zap.Logger

	mu    sync.RWMutex
	runs  map[string]*runner.Runner
	order []string
	seq   int

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New returns an empty registry.
func New(opt Options) *Registry {
	if opt.Defaults == (runner.RunConfig{}) {
		opt.Defaults = runner.DefaultConfig()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.NewID == nil {
		entropy := ulid.Monotonic(rand.Reader, 0)
		var mu sync.Mutex
		opt.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
		}
	}
	return &Registry{
		opt:  opt,
		log:  opt.Logger,
		runs: make(map[string]*runner.Runner),
		subs: make(map[*Subscription]struct{}),
	}
}

// Create adds an idle box. An empty name becomes "Simulation <n>".
func (r *Registry) Create(name string) runner.Snapshot {
	return r.CreateWith(name, r.opt.Defaults)
}

// CreateWith adds an idle box with its own starting configuration.
func (r *Registry) CreateWith(name string, cfg runner.RunConfig) runner.Snapshot {
	id := r.opt.NewID()

	r.mu.Lock()
	r.seq++
	if name == "" {
		name = fmt.Sprintf("Simulation %d", r.seq)
	}
	run := runner.New(runner.Options{
		ID:             id,
		Name:           name,
		Config:         cfg,
		Completer:      r.opt.Completer,
		Logger:         r.opt.Logger,
		Tracer:         r.opt.Tracer,
		LimiterFactory: r.opt.LimiterFactory,
		Notify:         r.publish,
	})
	r.runs[id] = run
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.log.Debug("simulation created", zap.String("run_id", id), zap.String("run", name))
	r.publish(id)
	return run.Summary()
}

// Remove stops the box if it is active and discards it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	run, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.runs, id)
	r.order = lo.Without(r.order, id)
	r.mu.Unlock()

	if run.Status().Active() {
		run.Stop()
	}
	r.log.Debug("simulation removed", zap.String("run_id", id))
	r.publish(id)
	return nil
}

// Configure merges patch into the box's stored configuration.
func (r *Registry) Configure(id string, patch runner.ConfigPatch) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	return run.UpdateConfig(patch)
}

// Start begins a run with the box's stored configuration.
func (r *Registry) Start(id string) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	return run.Start(run.Config())
}

func (r *Registry) Pause(id string) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	run.Pause()
	return nil
}

func (r *Registry) Resume(id string) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	run.Resume()
	return nil
}

func (r *Registry) Stop(id string) error {
	run, err := r.lookup(id)
	if err != nil {
		return err
	}
	run.Stop()
	return nil
}

// StopAll stops every active box.
func (r *Registry) StopAll() {
	for _, run := range r.runners() {
		if run.Status().Active() {
			run.Stop()
		}
	}
}

// Get returns the full snapshot, log included.
func (r *Registry) Get(id string) (runner.Snapshot, error) {
	run, err := r.lookup(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	return run.Snapshot(), nil
}

// Summary returns the state of one box without its request log.
func (r *Registry) Summary(id string) (runner.Snapshot, error) {
	run, err := r.lookup(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	return run.Summary(), nil
}

// List returns summaries in creation order.
func (r *Registry) List() []runner.Snapshot {
	return lo.Map(r.runners(), func(run *runner.Runner, _ int) runner.Snapshot {
		return run.Summary()
	})
}

// Totals recomputes the cross-run aggregate.
func (r *Registry) Totals() Totals {
	list := r.List()
	return Totals{
		Boxes:     len(list),
		Running:   lo.CountBy(list, func(s runner.Snapshot) bool { return s.Status == runner.StatusRunning }),
		Paused:    lo.CountBy(list, func(s runner.Snapshot) bool { return s.Status == runner.StatusPaused }),
		Requests:  lo.SumBy(list, func(s runner.Snapshot) int64 { return s.Stats.Total }),
		Successes: lo.SumBy(list, func(s runner.Snapshot) int64 { return s.Stats.Successes }),
		Errors:    lo.SumBy(list, func(s runner.Snapshot) int64 { return s.Stats.Errors }),
		Tokens:    lo.SumBy(list, func(s runner.Snapshot) int64 { return s.Stats.Tokens }),
	}
}

// Aggregate merges the latency data of every box into one set of stats.
// elapsed is the wall time the caller wants rates computed over.
func (r *Registry) Aggregate(elapsed time.Duration) metrics.Stats {
	c := metrics.NewCollector()
	for _, run := range r.runners() {
		run.MergeMetrics(c)
	}
	return c.Stats(elapsed)
}

// Wait blocks until every box present at call time has finished its run.
func (r *Registry) Wait(ctx context.Context) error {
	for _, run := range r.runners() {
		if err := run.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) lookup(id string) (*runner.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

func (r *Registry) runners() []*runner.Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(id string, _ int) *runner.Runner { return r.runs[id] })
}
