package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the elapsed time.
type TickMsg time.Time

// EventMsg carries one event from the source.
type EventMsg struct {
	Event events.Event
}

// ClosedMsg reports that the source is closed and drained.
type ClosedMsg struct{}

// =============================================================================
// Model
// =============================================================================

// DefaultMaxLines bounds the log kept for the viewport.
const DefaultMaxLines = 2000

// chromeLines is the height of everything except the log viewport and
// the stage rows: header, status, box borders, section headers and footer.
const chromeLines = 12

// Source delivers events in order. *events.Channel implements it.
type Source interface {
	Next(ctx context.Context) (events.Event, error)
	Dropped() uint64
}

// Config holds TUI configuration.
type Config struct {
	// Title names the run, e.g. "stream" or "play".
	Title string

	// Target is a one-line description of what runs, e.g. the input and
	// the server address.
	Target string

	// Stages are shown as pending until their first event.
	Stages []string

	Source      Source
	MetricsAddr string

	// Stop is called once when the user asks to stop the run. The
	// dashboard keeps running until Source is closed.
	Stop func()

	MaxLines int
}

// StageRow is the dashboard's view of one stage.
type StageRow struct {
	Name     string
	State    events.State
	ExitCode int
	Exited   bool
	Duration time.Duration
	LastLine string
}

type logLine struct {
	stage  string
	stream string
	text   string
}

// Model represents the TUI state.
type Model struct {
	title       string
	target      string
	metricsAddr string
	source      Source
	stop        func()
	maxLines    int

	stageOrder []string
	stages     map[string]*StageRow

	status   string
	severity events.Severity
	lines    []logLine
	dropped  uint64

	logs    viewport.Model
	spinner spinner.Model

	startTime time.Time
	endTime   time.Time

	finished bool
	outcome  string
	stopping bool
	closed   bool
	quitting bool

	width  int
	height int
}

// New creates a new TUI model.
func New(cfg Config) Model {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = statusInfo

	m := Model{
		title:       cfg.Title,
		target:      cfg.Target,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		stop:        cfg.Stop,
		maxLines:    cfg.MaxLines,
		stages:      make(map[string]*StageRow),
		logs:        viewport.New(76, 10),
		spinner:     sp,
		startTime:   time.Now(),
		width:       80,
		height:      24,
	}
	for _, name := range cfg.Stages {
		m.ensureStage(name)
	}
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init starts the spinner, the clock and the event pump.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, tickCmd()}
	if m.source != nil {
		cmds = append(cmds, waitForEvent(m.source))
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m.requestStop()
		case "end", "G":
			m.logs.GotoBottom()
			return m, nil
		case "home", "g":
			m.logs.GotoTop()
			return m, nil
		}
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.source != nil {
			m.dropped = m.source.Dropped()
		}
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case EventMsg:
		m.apply(msg.Event)
		return m, waitForEvent(m.source)

	case ClosedMsg:
		m.closed = true
		m.finish("")
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// requestStop asks the run to stop on the first press and quits on the
// second, or at once when nothing is running.
func (m Model) requestStop() (tea.Model, tea.Cmd) {
	if m.stopping || m.closed || m.source == nil {
		m.quitting = true
		return m, tea.Quit
	}
	m.stopping = true
	m.status = "Stopping..."
	m.severity = events.SeverityWarning
	if m.stop != nil {
		m.stop()
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Event handling
// =============================================================================

func (m *Model) apply(ev events.Event) {
	switch ev.Kind {
	case events.KindStatusChanged:
		m.status = ev.Message
		m.severity = ev.Severity

	case events.KindLogLine:
		row := m.ensureStage(ev.Stage)
		if !row.State.IsTerminal() {
			row.State = events.StateRunning
		}
		row.LastLine = ev.Text
		m.appendLine(logLine{stage: ev.Stage, stream: ev.Stream, text: ev.Text})

	case events.KindStageCompleted:
		row := m.ensureStage(ev.Stage)
		if res := ev.Result; res != nil {
			row.State = res.State
			row.Duration = res.Duration
			if res.State != events.StateSpawnError {
				row.ExitCode = res.ExitCode
				row.Exited = true
			}
		}

	case events.KindPipelineCompleted:
		m.finish(string(ev.Outcome))

	case events.KindSessionEnded:
		if ev.ExitCode == nil {
			m.finish("not started")
		} else {
			m.finish(fmt.Sprintf("exit code %d", *ev.ExitCode))
		}
	}
}

func (m *Model) ensureStage(name string) *StageRow {
	if row, ok := m.stages[name]; ok {
		return row
	}
	row := &StageRow{Name: name, State: events.StatePending}
	m.stages[name] = row
	m.stageOrder = append(m.stageOrder, name)
	return row
}

func (m *Model) appendLine(l logLine) {
	follow := m.logs.AtBottom()
	m.lines = append(m.lines, l)
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = append(m.lines[:0:0], m.lines[over:]...)
	}
	m.logs.SetContent(m.renderLines())
	if follow {
		m.logs.GotoBottom()
	}
}

func (m *Model) finish(outcome string) {
	if m.finished {
		return
	}
	m.finished = true
	m.endTime = time.Now()
	if outcome != "" {
		m.outcome = outcome
	}
}

// resize gives the log viewport whatever the stage table leaves.
func (m *Model) resize() {
	m.logs.Width = max(m.width-4, 20)
	m.logs.Height = max(m.height-chromeLines-len(m.stageOrder), 3)
	m.logs.SetContent(m.renderLines())
}

func (m Model) renderLines() string {
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(stageNameStyle.Render("[" + l.stage + "]"))
		b.WriteByte(' ')
		if l.stream == "stderr" {
			b.WriteString(stderrStyle.Render(l.text))
		} else {
			b.WriteString(l.text)
		}
	}
	return b.String()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForEvent blocks on the source for the next event.
func waitForEvent(src Source) tea.Cmd {
	return func() tea.Msg {
		ev, err := src.Next(context.Background())
		if err != nil {
			return ClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started, frozen once the
// run finishes.
func (m Model) Elapsed() time.Duration {
	if m.finished {
		return m.endTime.Sub(m.startTime)
	}
	return time.Since(m.startTime)
}

// Status returns the latest status message and its severity.
func (m Model) Status() (string, events.Severity) {
	return m.status, m.severity
}

// Stages returns the stage rows in first-seen order.
func (m Model) Stages() []StageRow {
	out := make([]StageRow, 0, len(m.stageOrder))
	for _, name := range m.stageOrder {
		out = append(out, *m.stages[name])
	}
	return out
}

// LineCount returns the number of log lines held.
func (m Model) LineCount() int {
	return len(m.lines)
}

// Finished reports whether the run reached a terminal state, and how.
func (m Model) Finished() (bool, string) {
	return m.finished, m.outcome
}

// Stopping reports whether the user asked to stop.
func (m Model) Stopping() bool {
	return m.stopping
}

// =============================================================================
// Helper for external use
// =============================================================================

// Run shows the dashboard until the source closes or the user quits twice.
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
