// Package dashboard renders a read-only live terminal view of the boxes in a
// registry while a headless session runs.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/gatesim/internal/metrics"
	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

// Source is satisfied by *registry.Registry.
type Source interface {
	List() []runner.Snapshot
	Totals() registry.Totals
	Aggregate(elapsed time.Duration) metrics.Stats
}

// Settings holds session parameters shown in the header.
type Settings struct {
	TargetURL  string
	Model      string
	Boxes      int
	Requests   int
	Pacing     runner.Pacing
	Rate       int
	Timeout    time.Duration
	ConfigFile string
}

const historyLen = 100

// Dashboard renders registry state with termui.
type Dashboard struct {
	source       Source
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	progressGauge  *widgets.Gauge
	errorList      *widgets.List
	runList        *widgets.List
	summaryPara    *widgets.Paragraph
	metricsPara    *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
	settings       Settings
}

// New initializes the terminal. shutdownFunc runs when the user presses q.
func New(source Source, settings Settings, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		source:         source,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historyLen),
		startTime:      time.Now(),
		settings:       settings,
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Waiting for data..."
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Overall Progress"
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.errorList = widgets.NewList()
	d.errorList.Title = "Errors"
	d.errorList.Rows = []string{"[No failures](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.runList = widgets.NewList()
	d.runList.Title = "Boxes"
	d.runList.Rows = []string{"Awaiting data"}
	d.runList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.runList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Session"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Totals"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.20,
			ui.NewCol(0.5, d.progressGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.6, d.runList),
			ui.NewCol(0.4, d.errorList),
		),
	)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the session has wound down.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	runs := d.source.List()
	totals := d.source.Totals()
	stats := d.source.Aggregate(elapsed)

	if stats.Total > 0 {
		d.latencyHistory = append(d.latencyHistory, stats.MeanLatencyMs)
		if len(d.latencyHistory) > historyLen {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Latency | Mean: %.2fms | Min: %.2fms | Max: %.2fms",
			stats.MeanLatencyMs,
			stats.MinLatencyMs,
			stats.MaxLatencyMs,
		)
	}

	percent := overallProgress(runs)
	d.progressGauge.Percent = percent
	d.progressGauge.Label = fmt.Sprintf("%d%% | %.1f req/s", percent, stats.RequestsPerSec)

	d.summaryPara.Text = fmt.Sprintf(
		"Gateway: %s\n%s\nElapsed: %s | Running: %d | Paused: %d",
		d.settings.TargetURL,
		d.formatSettings(),
		elapsed.Round(time.Second),
		totals.Running,
		totals.Paused,
	)

	successRate := 0.0
	if stats.Total > 0 {
		successRate = float64(stats.Successes) / float64(stats.Total) * 100
	}
	d.metricsPara.Text = fmt.Sprintf(
		"Requests:      %d\nSuccessful:    %d\nFailed:        %d\nTimeouts:      %d\nSuccess Rate:  %.1f%%\nTokens:        %d (%.1f/s)",
		stats.Total,
		stats.Successes,
		stats.Failures,
		stats.Timeouts,
		successRate,
		stats.Tokens,
		stats.TokensPerSec,
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
		stats.MinLatencyMs,
		stats.MeanLatencyMs,
		stats.P50LatencyMs,
		stats.P90LatencyMs,
		stats.P99LatencyMs,
	)

	d.errorList.Rows = formatErrorRows(stats.Errors)
	d.runList.Rows = formatRunRows(runs)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

// overallProgress averages progress across boxes, weighted by request count.
func overallProgress(runs []runner.Snapshot) int {
	var want, done float64
	for _, run := range runs {
		n := float64(run.Config.RequestCount)
		want += n
		done += n * run.Progress / 100
	}
	if want == 0 {
		return 0
	}
	pct := int(done / want * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func formatRunRows(runs []runner.Snapshot) []string {
	if len(runs) == 0 {
		return []string{"[No boxes](fg:yellow)"}
	}
	rows := make([]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, fmt.Sprintf("[%s](fg:%s) %-18s | %5.1f%% | %d/%d | ok %d | err %d | avg %.0fms | tok %d",
			statusLabel(run.Status),
			statusColor(run.Status),
			run.Name,
			run.Progress,
			run.Stats.Total,
			run.Config.RequestCount,
			run.Stats.Successes,
			run.Stats.Errors,
			run.Stats.AvgLatencyMs,
			run.Stats.Tokens,
		))
	}
	return rows
}

func statusLabel(s runner.Status) string {
	return fmt.Sprintf("%-9s", strings.ToUpper(string(s)))
}

func statusColor(s runner.Status) string {
	switch s {
	case runner.StatusRunning:
		return "green"
	case runner.StatusPaused:
		return "yellow"
	case runner.StatusError:
		return "red"
	case runner.StatusCompleted:
		return "blue"
	default:
		return "white"
	}
}

func formatErrorRows(errs map[string]int) []string {
	rows := metrics.FlattenErrors(errs)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Label, row.Count))
	}
	return formatted
}

func (d *Dashboard) formatSettings() string {
	s := d.settings
	var parts []string

	if s.Model != "" {
		parts = append(parts, fmt.Sprintf("Model: %s", s.Model))
	}
	if s.Boxes > 1 {
		parts = append(parts, fmt.Sprintf("Boxes: %d", s.Boxes))
	}
	if s.Requests > 0 {
		parts = append(parts, fmt.Sprintf("Requests: %d", s.Requests))
	}
	if s.Pacing != "" {
		parts = append(parts, fmt.Sprintf("Pacing: %s", s.Pacing))
	}
	if s.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", s.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}
	if s.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", s.Timeout))
	}
	if s.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", s.ConfigFile))
	}
	return strings.Join(parts, " | ")
}
