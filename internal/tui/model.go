// Package tui is the interactive multi-box console. Each box is an
// independent run in a registry; the console only issues commands and
// redraws when the registry reports a change.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/gatesim/internal/registry"
	"github.com/torosent/gatesim/internal/runner"
)

const recentEntries = 5

type changedMsg struct{}

// Model is the bubbletea model of the console.
type Model struct {
	reg  *registry.Registry
	sub  *registry.Subscription
	done chan struct{}

	runs     []runner.Snapshot
	seen     map[string]runner.Status
	detail   runner.Snapshot
	totals   registry.Totals
	cursor   int
	notice   string
	failed   bool // notice describes a failure
	bar      progress.Model
	width    int
	quitting bool

	// editing is set while the prompt editor owns the keyboard.
	editing bool
	prompt  textinput.Model
}

// NewModel subscribes to reg. Call Close once the program exits.
func NewModel(reg *registry.Registry) *Model {
	prompt := textinput.New()
	prompt.Placeholder = "Explain rate limiting in one paragraph."
	prompt.CharLimit = 500
	prompt.Width = 60
	m := &Model{
		reg:    reg,
		sub:    reg.Subscribe(),
		done:   make(chan struct{}),
		seen:   map[string]runner.Status{},
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(24)),
		prompt: prompt,
	}
	m.refresh()
	return m
}

// Close releases the registry subscription.
func (m *Model) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
		m.sub.Close()
	}
}

func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *Model) waitForChange() tea.Cmd {
	sub, done := m.sub, m.done
	return func() tea.Msg {
		select {
		case <-sub.C():
			sub.Pending()
			return changedMsg{}
		case <-done:
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m.handleKey(msg)
	case tea.KeyEsc:
		m.editing = false
		m.prompt.Blur()
		m.setNotice("prompt unchanged", false)
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.prompt.Value())
		if text == "" {
			m.setNotice("prompt text is required for fixed mode", true)
			return m, nil
		}
		m.editing = false
		m.prompt.Blur()
		m.notice = ""
		mode := runner.PromptFixed
		m.configure(func(runner.RunConfig) runner.ConfigPatch {
			return runner.ConfigPatch{PromptMode: &mode, Prompt: &text}
		})
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

// editPrompt opens the prompt editor for the selected box.
func (m *Model) editPrompt(hint string) tea.Cmd {
	run, ok := m.selected()
	if !ok {
		m.setNotice("no box selected, press n to create one", true)
		return nil
	}
	if run.Status == runner.StatusRunning {
		m.setNotice(describe(runner.ErrRunActive), true)
		return nil
	}
	m.editing = true
	m.prompt.SetValue(run.Config.Prompt)
	m.prompt.CursorEnd()
	if hint != "" {
		m.setNotice(hint, false)
	}
	return m.prompt.Focus()
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""
	switch msg.String() {
	case "ctrl+c", "q":
		m.reg.StopAll()
		m.quitting = true
		m.Close()
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.runs)-1 {
			m.cursor++
		}
	case "n":
		snap := m.reg.Create("")
		m.refresh()
		m.cursor = m.indexOf(snap.ID)
		m.setNotice(fmt.Sprintf("created %s", snap.Name), false)
	case "s":
		m.apply(m.reg.Start)
	case "p":
		m.apply(m.reg.Pause)
	case "r":
		m.apply(m.reg.Resume)
	case "x":
		m.apply(m.reg.Stop)
	case "d":
		m.apply(m.reg.Remove)
	case "b":
		m.configure(func(cfg runner.RunConfig) runner.ConfigPatch {
			next := runner.PacingBurst
			if cfg.Pacing == runner.PacingBurst {
				next = runner.PacingSteady
			}
			return runner.ConfigPatch{Pacing: &next}
		})
	case "e":
		return m, m.editPrompt("")
	case "m":
		if run, ok := m.selected(); ok && run.Config.PromptMode != runner.PromptFixed && run.Config.Prompt == "" {
			return m, m.editPrompt("enter the prompt to send in fixed mode")
		}
		m.configure(func(cfg runner.RunConfig) runner.ConfigPatch {
			next := runner.PromptFixed
			if cfg.PromptMode == runner.PromptFixed {
				next = runner.PromptRandom
			}
			return runner.ConfigPatch{PromptMode: &next}
		})
	}
	m.refresh()
	return m, nil
}

func (m *Model) selected() (runner.Snapshot, bool) {
	if m.cursor < 0 || m.cursor >= len(m.runs) {
		return runner.Snapshot{}, false
	}
	return m.runs[m.cursor], true
}

func (m *Model) apply(cmd func(id string) error) {
	run, ok := m.selected()
	if !ok {
		m.setNotice("no box selected, press n to create one", true)
		return
	}
	if err := cmd(run.ID); err != nil {
		m.setNotice(describe(err), true)
	}
}

func (m *Model) setNotice(text string, failed bool) {
	m.notice = text
	m.failed = failed
}

func (m *Model) configure(build func(runner.RunConfig) runner.ConfigPatch) {
	m.apply(func(id string) error {
		run, _ := m.selected()
		return m.reg.Configure(id, build(run.Config))
	})
}

func describe(err error) string {
	var verr runner.ValidationError
	if errors.As(err, &verr) {
		return strings.Join(verr.Issues(), "; ")
	}
	return err.Error()
}

func (m *Model) indexOf(id string) int {
	for i, run := range m.runs {
		if run.ID == id {
			return i
		}
	}
	return 0
}

func (m *Model) refresh() {
	m.runs = m.reg.List()
	seen := make(map[string]runner.Status, len(m.runs))
	for _, run := range m.runs {
		if m.seen[run.ID].Active() && run.Status.Terminal() {
			m.setNotice(finishedNotice(run), run.Status == runner.StatusError)
		}
		seen[run.ID] = run.Status
	}
	m.seen = seen
	m.totals = m.reg.Totals()
	if m.cursor >= len(m.runs) {
		m.cursor = len(m.runs) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.detail = runner.Snapshot{}
	if run, ok := m.selected(); ok {
		if full, err := m.reg.Get(run.ID); err == nil {
			m.detail = full
		}
	}
}

func finishedNotice(run runner.Snapshot) string {
	if run.Status == runner.StatusError {
		return fmt.Sprintf("%s failed: %s", run.Name, run.Err)
	}
	return fmt.Sprintf("%s completed: %d succeeded, %d failed, %d tokens",
		run.Name, run.Stats.Successes, run.Stats.Errors, run.Stats.Tokens)
}

func (m *Model) View() string {
	if m.quitting {
		return "Stopped all simulations.\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("gatesim console"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Boxes: %s  Running: %s  Paused: %s  Requests: %s  Errors: %s  Tokens: %s\n\n",
		valueStyle.Render(fmt.Sprint(m.totals.Boxes)),
		valueStyle.Render(fmt.Sprint(m.totals.Running)),
		valueStyle.Render(fmt.Sprint(m.totals.Paused)),
		valueStyle.Render(fmt.Sprint(m.totals.Requests)),
		valueStyle.Render(fmt.Sprint(m.totals.Errors)),
		valueStyle.Render(fmt.Sprint(m.totals.Tokens)),
	))

	if len(m.runs) == 0 {
		b.WriteString(subtleStyle.Render("No simulations yet. Press n to create one."))
		b.WriteString("\n")
	}
	for i, run := range m.runs {
		cursor := "  "
		name := run.Name
		if i == m.cursor {
			cursor = selectedStyle.Render("> ")
			name = selectedStyle.Render(name)
		}
		b.WriteString(fmt.Sprintf("%s%-20s %s %s %3.0f%%  %d/%d  ok %d  err %d  avg %.0fms\n",
			cursor,
			name,
			renderStatus(run.Status),
			m.bar.ViewAs(run.Progress/100),
			run.Progress,
			run.Stats.Total,
			run.Config.RequestCount,
			run.Stats.Successes,
			run.Stats.Errors,
			run.Stats.AvgLatencyMs,
		))
	}

	if m.detail.ID != "" {
		b.WriteString("\n")
		b.WriteString(m.renderDetail())
		b.WriteString("\n")
	}

	if m.editing {
		b.WriteString("\n")
		b.WriteString(keyStyle.Render("Prompt: "))
		b.WriteString(m.prompt.View())
		b.WriteString("\n")
	}

	if m.notice != "" {
		style := noticeStyle
		if m.failed {
			style = errorStyle
		}
		b.WriteString("\n")
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.editing {
		b.WriteString(subtleStyle.Render("enter save  esc cancel"))
		return b.String()
	}
	b.WriteString(helpLine())
	return b.String()
}

func (m *Model) renderDetail() string {
	d := m.detail
	cfg := d.Config
	lines := []string{
		fmt.Sprintf("%s  model=%s  prompts=%s  pacing=%s", d.Name, orDash(cfg.Model), cfg.PromptMode, pacingSummary(cfg)),
	}
	if d.Err != "" {
		lines = append(lines, errorStyle.Render(d.Err))
	}
	start := len(d.Log) - recentEntries
	if start < 0 {
		start = 0
	}
	for _, e := range d.Log[start:] {
		line := fmt.Sprintf("#%-4d %-8s %7.0fms  %s", e.Index+1, e.Status, e.DurationMs, e.Prompt)
		if e.Error != "" {
			line = errorStyle.Render(fmt.Sprintf("#%-4d %-8s %s", e.Index+1, e.Status, e.Error))
		}
		lines = append(lines, line)
	}
	style := detailStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func pacingSummary(cfg runner.RunConfig) string {
	if cfg.Pacing == runner.PacingBurst {
		return fmt.Sprintf("burst %d every %s", cfg.BurstSize, cfg.BurstInterval)
	}
	return fmt.Sprintf("steady every %s", cfg.RequestInterval)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func helpLine() string {
	keys := []struct{ key, desc string }{
		{"↑/↓", "select"},
		{"n", "new"},
		{"s", "start"},
		{"p", "pause"},
		{"r", "resume"},
		{"x", "stop"},
		{"d", "delete"},
		{"b", "steady/burst"},
		{"m", "prompt mode"},
		{"e", "edit prompt"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+" "+subtleStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}

// Run drives the console until the user quits or ctx is cancelled.
func Run(ctx context.Context, reg *registry.Registry) error {
	m := NewModel(reg)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		reg.StopAll()
		return nil
	}
	return err
}
