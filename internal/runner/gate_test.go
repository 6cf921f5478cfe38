package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateSleepWithoutPause(t *testing.T) {
	g := newGate()
	start := time.Now()
	if err := g.sleep(context.Background(), 30*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("sleep returned early after %s", elapsed)
	}
}

func TestGateSleepFreezesWhilePaused(t *testing.T) {
	g := newGate()
	done := make(chan struct{})
	go func() {
		_ = g.sleep(context.Background(), 80*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if !g.pause() {
		t.Fatal("first pause should report a change")
	}
	if g.pause() {
		t.Fatal("second pause should be a no-op")
	}

	select {
	case <-done:
		t.Fatal("sleep finished while paused")
	case <-time.After(150 * time.Millisecond):
	}

	resumed := time.Now()
	g.resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not finish after resume")
	}
	// Roughly 60ms of the delay were left when the gate paused.
	if elapsed := time.Since(resumed); elapsed < 30*time.Millisecond {
		t.Fatalf("remaining delay was skipped: %s", elapsed)
	}
}

func TestGateWaitHonoursCancellation(t *testing.T) {
	g := newGate()
	g.pause()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := g.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !g.isPaused() {
		t.Fatal("gate should still be paused")
	}
	if err := g.sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep on cancelled context: %v", err)
	}
}

func TestGateResumeWithoutPause(t *testing.T) {
	g := newGate()
	if g.resume() {
		t.Fatal("resume on an open gate should be a no-op")
	}
	if err := g.wait(context.Background()); err != nil {
		t.Fatalf("wait on open gate: %v", err)
	}
}
