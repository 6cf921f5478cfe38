package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/gatesim/internal/config"
	"github.com/torosent/gatesim/internal/console"
	"github.com/torosent/gatesim/internal/dashboard"
	"github.com/torosent/gatesim/internal/httpclient"
	"github.com/torosent/gatesim/internal/logging"
	"github.com/torosent/gatesim/internal/output"
	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/threshold"
	"github.com/torosent/gatesim/internal/tracing"
	"github.com/torosent/gatesim/internal/tui"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

var errThresholdsFailed = errors.New("one or more thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	client, err := httpclient.New(httpclient.Options{
		BaseURL:   cfg.TargetURL,
		Path:      cfg.Path,
		Timeout:   cfg.Timeout,
		Tracer:    tp.Tracer(),
		Propagate: tp.ShouldPropagate(),
	})
	if err != nil {
		return err
	}

	runs := plannedRuns(cfg)
	reg := registry.New(registry.Options{
		Completer: client,
		Defaults:  baseRunConfig(cfg),
		Logger:    logger,
		Tracer:    tp.Tracer(),
	})
	ids := make([]string, 0, len(runs))
	for _, p := range runs {
		ids = append(ids, reg.CreateWith(p.name, p.cfg).ID)
	}

	switch {
	case cfg.Serve != "":
		logger.Info("serving console", zap.String("addr", cfg.Serve), zap.String("gateway", client.Endpoint()))
		err := console.New(reg, console.Options{Logger: logger}).ListenAndServe(ctx, cfg.Serve)
		reg.StopAll()
		return err
	case cfg.Interactive:
		return tui.Run(ctx, reg)
	}

	return runHeadless(ctx, cfg, reg, ids, client.Endpoint(), thresholds, logger, stdout)
}

func runHeadless(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	ids []string,
	endpoint string,
	thresholds []threshold.Threshold,
	logger *zap.Logger,
	stdout io.Writer,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Dashboard {
		dash, err := dashboard.New(reg, dashboardSettings(cfg, endpoint), cancel)
		if err != nil {
			return err
		}
		dash.Start()
		defer dash.Stop()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.YAMLOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(reg, progressInterval, stdout)
	}

	start := time.Now()
	for _, id := range ids {
		if err := reg.Start(id); err != nil {
			reg.StopAll()
			return fmt.Errorf("start %s: %w", id, err)
		}
	}
	if progress != nil {
		progress.Start()
	}

	if err := reg.Wait(ctx); err != nil {
		logger.Warn("interrupted, stopping all simulations")
		reg.StopAll()
	}
	elapsed := time.Since(start)
	if progress != nil {
		progress.Stop()
	}

	report := output.Report{
		GeneratedAt: time.Now().UTC(),
		Target:      endpoint,
		Totals:      reg.Totals(),
		Aggregate:   reg.Aggregate(elapsed),
		Runs:        reg.List(),
	}
	if len(thresholds) > 0 {
		report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(report.Aggregate)
	}

	switch {
	case cfg.JSONOutput:
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	case cfg.YAMLOutput:
		if err := output.PrintYAMLReport(stdout, report); err != nil {
			return err
		}
	default:
		output.PrintReport(stdout, report)
	}

	if cfg.ReportFile != "" {
		if err := output.WriteReportFile(cfg.ReportFile, report); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", cfg.ReportFile))
	}

	if !report.Passed() {
		return errThresholdsFailed
	}
	return nil
}

func dashboardSettings(cfg *config.Config, endpoint string) dashboard.Settings {
	base := baseRunConfig(cfg)
	return dashboard.Settings{
		TargetURL:  endpoint,
		Model:      cfg.Model,
		Boxes:      len(plannedRuns(cfg)),
		Requests:   base.RequestCount,
		Pacing:     base.Pacing,
		Rate:       cfg.Rate,
		Timeout:    cfg.Timeout,
		ConfigFile: cfg.ConfigFile,
	}
}
