package runner

import (
	"context"
	"sync"
	"time"
)

// gate blocks the pacing loop while a run is paused. Waiters park on a
// channel that is closed on resume, so a paused run costs nothing.
type gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{} // closed while running
	closed chan struct{} // closed while paused
}

func newGate() *gate {
	open := make(chan struct{})
	close(open)
	return &gate{open: open, closed: make(chan struct{})}
}

func (g *gate) pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.open = make(chan struct{})
	close(g.closed)
	return true
}

func (g *gate) resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	g.closed = make(chan struct{})
	close(g.open)
	return true
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *gate) channels() (open, closed <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open, g.closed
}

// wait returns once the gate is open or ctx is done.
func (g *gate) wait(ctx context.Context) error {
	open, _ := g.channels()
	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleep waits for d of unpaused time. Time spent paused does not count
// toward d.
func (g *gate) sleep(ctx context.Context, d time.Duration) error {
	remaining := d
	for remaining > 0 {
		if err := g.wait(ctx); err != nil {
			return err
		}
		_, paused := g.channels()
		started := time.Now()
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			return nil
		case <-paused:
			timer.Stop()
			remaining -= time.Since(started)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return ctx.Err()
}
