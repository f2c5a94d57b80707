package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/esisync/internal/service"
)

const pollInterval = 200 * time.Millisecond

// Theme holds the color scheme for the progress display and reports.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Warning    lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run state
type tickMsg time.Time

// runDoneMsg carries the pipeline result
type runDoneMsg struct {
	report *service.Report
	err    error
}

// progressModel is the bubbletea model for a running sync.
type progressModel struct {
	run      *service.Run
	snap     service.Run
	wait     tea.Cmd
	cancel   context.CancelFunc
	progress progress.Model
	theme    Theme

	finished bool
	quitting bool
	report   *service.Report
	err      error
}

func newProgressModel(run *service.Run, wait tea.Cmd, cancel context.CancelFunc) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		run:      run,
		snap:     run.Snapshot(),
		wait:     wait,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts polling and waits for the pipeline.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.wait,
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Stop issuing requests; in-flight ones finish and the run reports.
			m.quitting = true
			m.cancel()
			return m, nil
		}

	case tickMsg:
		m.snap = m.run.Snapshot()
		return m, tickCmd()

	case runDoneMsg:
		m.snap = m.run.Snapshot()
		m.finished = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.finished {
		if m.err != nil {
			return m.theme.errorStyle().Render(fmt.Sprintf("✗ Run %s failed: %s", m.snap.ID, m.err)) + "\n"
		}
		return m.theme.completedStyle().Render(fmt.Sprintf("✓ Run %s completed", m.snap.ID)) + "\n"
	}

	var pct float64
	if m.snap.Total > 0 {
		pct = float64(m.snap.Progress) / float64(m.snap.Total)
	}

	phase := m.snap.Phase
	if phase == "" {
		phase = "starting"
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", phase))
	counts := fmt.Sprintf("%d/%d", m.snap.Progress, m.snap.Total)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop after in-flight requests")
	if m.quitting {
		hint = m.theme.hintStyle().Render("Stopping...")
	}
	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWithProgress runs the pipeline in the background while drawing its progress.
func runWithProgress(ctx context.Context, p *service.Pipeline, opts service.RunOptions) (*service.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := p.Tracker().Start()
	var result runDoneMsg
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		report, err := p.Run(ctx, run, opts)
		result = runDoneMsg{report: report, err: err}
	}()

	// Blocks on the pipeline in a separate goroutine (command).
	wait := func() tea.Msg {
		<-finished
		return result
	}

	_, uiErr := tea.NewProgram(newProgressModel(run, wait, cancel)).Run()
	if uiErr != nil {
		cancel()
	}
	<-finished
	if uiErr != nil && result.err == nil {
		return result.report, fmt.Errorf("progress UI error: %w", uiErr)
	}
	return result.report, result.err
}
