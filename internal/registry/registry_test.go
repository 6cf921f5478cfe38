package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/torosent/gatesim/internal/httpclient"
	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

type stubCompleter struct {
	latency time.Duration
	tokens  int64
}

func (s stubCompleter) Complete(ctx context.Context, req httpclient.Request) (httpclient.Completion, error) {
	return httpclient.Completion{StatusCode: 200, Tokens: s.tokens, Model: req.Model, Latency: s.latency}, nil
}

func readyConfig(n int) runner.RunConfig {
	cfg := runner.DefaultConfig()
	cfg.Model = "gpt-test"
	cfg.Token = "secret"
	cfg.RequestCount = n
	cfg.RequestInterval = 0
	return cfg
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	seq := 0
	return registry.New(registry.Options{
		Completer: stubCompleter{latency: 50 * time.Millisecond, tokens: 3},
		Defaults:  readyConfig(2),
		NewID: func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	})
}

func waitAll(t *testing.T, reg *registry.Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := reg.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestCreateNamesAndOrder(t *testing.T) {
	reg := newRegistry(t)
	a := reg.Create("")
	b := reg.Create("custom")
	c := reg.Create("")

	if a.Name != "Simulation 1" || b.Name != "custom" || c.Name != "Simulation 3" {
		t.Fatalf("unexpected names: %q %q %q", a.Name, b.Name, c.Name)
	}
	if a.Status != runner.StatusIdle {
		t.Fatalf("new box status = %s", a.Status)
	}
	list := reg.List()
	if len(list) != 3 || list[0].ID != a.ID || list[1].ID != b.ID || list[2].ID != c.ID {
		t.Fatalf("list not in creation order: %+v", list)
	}
}

func TestDefaultIDsAreULIDs(t *testing.T) {
	reg := registry.New(registry.Options{Completer: stubCompleter{}})
	a := reg.Create("")
	b := reg.Create("")
	if len(a.ID) != 26 || a.ID == b.ID {
		t.Fatalf("unexpected ids %q %q", a.ID, b.ID)
	}
	if a.ID >= b.ID {
		t.Fatalf("ids should sort by creation: %q >= %q", a.ID, b.ID)
	}
}

func TestUnknownIDs(t *testing.T) {
	reg := newRegistry(t)
	checks := map[string]error{
		"start":     reg.Start("nope"),
		"pause":     reg.Pause("nope"),
		"resume":    reg.Resume("nope"),
		"stop":      reg.Stop("nope"),
		"remove":    reg.Remove("nope"),
		"configure": reg.Configure("nope", runner.ConfigPatch{}),
	}
	for name, err := range checks {
		if !errors.Is(err, registry.ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
	if _, err := reg.Get("nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := reg.Summary("nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("summary: expected ErrNotFound, got %v", err)
	}
}

func TestSummaryOmitsLog(t *testing.T) {
	reg := newRegistry(t)
	a := reg.Create("")
	if err := reg.Start(a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitAll(t, reg)

	full, err := reg.Get(a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sum, err := reg.Summary(a.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(full.Log) != 2 || sum.Log != nil {
		t.Fatalf("full log=%d summary log=%d", len(full.Log), len(sum.Log))
	}
	if sum.Status != full.Status || sum.Stats.Total != full.Stats.Total || sum.Version != full.Version {
		t.Fatalf("summary disagrees with snapshot: %+v vs %+v", sum.Stats, full.Stats)
	}
}

func TestRunsAreIndependent(t *testing.T) {
	reg := newRegistry(t)
	a := reg.Create("")
	b := reg.Create("")

	count := 4
	if err := reg.Configure(b.ID, runner.ConfigPatch{RequestCount: &count}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := reg.Start(a.ID); err != nil {
		t.Fatalf("start a: %v", err)
	}
	waitAll(t, reg)

	gotA, _ := reg.Get(a.ID)
	gotB, _ := reg.Get(b.ID)
	if gotA.Status != runner.StatusCompleted || len(gotA.Log) != 2 {
		t.Fatalf("a: status=%s log=%d", gotA.Status, len(gotA.Log))
	}
	if gotB.Status != runner.StatusIdle || len(gotB.Log) != 0 {
		t.Fatalf("b was affected by a: status=%s log=%d", gotB.Status, len(gotB.Log))
	}

	if err := reg.Start(b.ID); err != nil {
		t.Fatalf("start b: %v", err)
	}
	waitAll(t, reg)
	gotB, _ = reg.Get(b.ID)
	if len(gotB.Log) != 4 {
		t.Fatalf("b log = %d, want 4", len(gotB.Log))
	}
}

func TestTotalsAndAggregate(t *testing.T) {
	reg := newRegistry(t)
	a := reg.Create("")
	b := reg.Create("")
	reg.Create("")
	for _, id := range []string{a.ID, b.ID} {
		if err := reg.Start(id); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	waitAll(t, reg)

	totals := reg.Totals()
	want := registry.Totals{Boxes: 3, Requests: 4, Successes: 4, Tokens: 12}
	if totals != want {
		t.Fatalf("totals = %+v, want %+v", totals, want)
	}

	agg := reg.Aggregate(time.Second)
	if agg.Total != 4 || agg.Tokens != 12 {
		t.Fatalf("aggregate = %+v", agg)
	}
	if agg.MeanLatencyMs != 50 {
		t.Fatalf("aggregate mean = %v, want 50", agg.MeanLatencyMs)
	}
}

func TestRemoveStopsActiveRun(t *testing.T) {
	reg := registry.New(registry.Options{Completer: stubCompleter{}, Defaults: readyConfig(100)})
	s := reg.Create("")
	count := 100
	interval := 50 * time.Millisecond
	if err := reg.Configure(s.ID, runner.ConfigPatch{RequestCount: &count, RequestInterval: &interval}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := reg.Start(s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.Remove(s.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reg.Get(s.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("removed box still present: %v", err)
	}
	if got := reg.Totals().Boxes; got != 0 {
		t.Fatalf("boxes = %d after remove", got)
	}
}

func TestConfigureRejectedWhileRunning(t *testing.T) {
	reg := newRegistry(t)
	s := reg.Create("")
	interval := 200 * time.Millisecond
	if err := reg.Configure(s.ID, runner.ConfigPatch{RequestInterval: &interval}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := reg.Start(s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	count := 9
	if err := reg.Configure(s.ID, runner.ConfigPatch{RequestCount: &count}); !errors.Is(err, runner.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	reg.StopAll()
	waitAll(t, reg)
	if got, _ := reg.Get(s.ID); got.Status != runner.StatusCompleted {
		t.Fatalf("status after StopAll = %s", got.Status)
	}
}

func TestSubscriptionCoalesces(t *testing.T) {
	reg := newRegistry(t)
	sub := reg.Subscribe()
	defer sub.Close()

	a := reg.Create("")
	b := reg.Create("")

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no wake-up after create")
	}
	ids := sub.Pending()
	if len(ids) != 2 || ids[0] != a.ID || ids[1] != b.ID {
		t.Fatalf("pending = %v", ids)
	}
	if again := sub.Pending(); len(again) != 0 {
		t.Fatalf("pending not drained: %v", again)
	}

	select {
	case <-sub.C():
		t.Fatal("unexpected second wake-up for coalesced changes")
	default:
	}

	sub.Close()
	reg.Create("")
	if got := sub.Pending(); len(got) != 0 {
		t.Fatalf("closed subscription received %v", got)
	}
}
