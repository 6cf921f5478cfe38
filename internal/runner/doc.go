// Package runner drives a single simulation box against the gateway.
//
// A [Runner] owns one run at a time. [Runner.Start] copies a [RunConfig]
// and launches the pacing loop in the background:
//
//   - Steady pacing admits one request, then waits RequestInterval.
//   - Burst pacing admits BurstSize requests at once, waits for the whole
//     batch to settle, then waits BurstInterval.
//
// Requests are fire-and-forget relative to the loop; each outcome is
// written back into the run's log by index when it settles.
//
// # Lifecycle
//
//	idle -> running <-> paused
//	running|paused -> completed   (natural end or Stop)
//	running|paused -> error       (loop failure)
//	completed|error -> running    (Start again)
//
// Pause blocks new submissions and freezes the current delay; requests
// already in flight still settle. Stop cancels every in-flight request
// and discards their outcomes. Outcomes from a superseded run are dropped
// by generation.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		ID:        "01J...",
//		Name:      "Simulation 1",
//		Completer: client,
//		Logger:    logger,
//	})
//	cfg := runner.DefaultConfig()
//	cfg.Model, cfg.Token = "gpt-4o-mini", token
//	if err := r.Start(cfg); err != nil {
//		return err
//	}
//	_ = r.Wait(ctx)
//	fmt.Println(r.Summary().Stats.AvgLatencyMs)
package runner
