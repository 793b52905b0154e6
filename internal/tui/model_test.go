package tui

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// =============================================================================
// Mock Source
// =============================================================================

type mockSource struct {
	queue   []events.Event
	dropped uint64
}

func (s *mockSource) Next(context.Context) (events.Event, error) {
	if len(s.queue) == 0 {
		return events.Event{}, events.ErrClosed
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *mockSource) Dropped() uint64 { return s.dropped }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func feed(t *testing.T, m Model, evs ...events.Event) Model {
	t.Helper()
	for _, ev := range evs {
		m, _ = update(t, m, EventMsg{Event: ev})
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	m := New(Config{
		Title:       "stream",
		Target:      "song.mp3 -> example.com:8080",
		Stages:      []string{"Segmenter", "Dispatcher"},
		MetricsAddr: "localhost:9090",
	})

	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.maxLines != DefaultMaxLines {
		t.Errorf("maxLines = %d, want %d", m.maxLines, DefaultMaxLines)
	}

	rows := m.Stages()
	if len(rows) != 2 || rows[0].Name != "Segmenter" || rows[1].Name != "Dispatcher" {
		t.Fatalf("Stages() = %+v", rows)
	}
	for _, r := range rows {
		if r.State != events.StatePending {
			t.Errorf("%s state = %s, want pending", r.Name, r.State)
		}
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
	if cmd := New(Config{Source: &mockSource{}}).Init(); cmd == nil {
		t.Error("Init() with a source returned nil cmd")
	}
}

// =============================================================================
// Tests: Events
// =============================================================================

func TestModel_AppliesPipelineEvents(t *testing.T) {
	m := New(Config{Stages: []string{"Segmenter", "Dispatcher"}, Source: &mockSource{}})

	m = feed(t, m,
		events.Status(events.SeverityInfo, "Starting Segmenter"),
		events.Log("Segmenter", "stdout", "writing seg0.ts"),
		events.StageCompleted(events.StageResult{Stage: "Segmenter", State: events.StateSucceeded, Duration: 2 * time.Second}),
		events.Log("Dispatcher", "stderr", "listening"),
	)

	rows := m.Stages()
	if rows[0].State != events.StateSucceeded || !rows[0].Exited || rows[0].ExitCode != 0 || rows[0].LastLine != "writing seg0.ts" {
		t.Errorf("segmenter row = %+v", rows[0])
	}
	if rows[1].State != events.StateRunning || rows[1].LastLine != "listening" {
		t.Errorf("dispatcher row = %+v", rows[1])
	}
	if msg, sev := m.Status(); msg != "Starting Segmenter" || sev != events.SeverityInfo {
		t.Errorf("Status() = %q/%v", msg, sev)
	}
	if m.LineCount() != 2 {
		t.Errorf("LineCount() = %d, want 2", m.LineCount())
	}
	if done, _ := m.Finished(); done {
		t.Error("Finished() before PipelineCompleted")
	}

	m = feed(t, m,
		events.StageCompleted(events.StageResult{Stage: "Dispatcher", State: events.StateTerminated, ExitCode: 143}),
		events.PipelineCompleted(events.StateTerminated),
	)
	if done, outcome := m.Finished(); !done || outcome != "terminated" {
		t.Errorf("Finished() = %v, %q", done, outcome)
	}
	if rows := m.Stages(); rows[1].ExitCode != 143 {
		t.Errorf("dispatcher exit = %d, want 143", rows[1].ExitCode)
	}
}

func TestModel_SpawnErrorHasNoExitCode(t *testing.T) {
	m := New(Config{Source: &mockSource{}})
	m = feed(t, m, events.StageCompleted(events.StageResult{
		Stage: "Segmenter",
		State: events.StateSpawnError,
		Err:   fmt.Errorf("exec format error"),
	}))

	rows := m.Stages()
	if len(rows) != 1 || rows[0].Exited || rows[0].State != events.StateSpawnError {
		t.Errorf("rows = %+v", rows)
	}
}

func TestModel_LogLineAfterCompletionKeepsState(t *testing.T) {
	m := New(Config{Source: &mockSource{}})
	m = feed(t, m,
		events.StageCompleted(events.StageResult{Stage: "Segmenter", State: events.StateFailed, ExitCode: 2}),
		events.Log("Segmenter", "stderr", "late line"),
	)
	if rows := m.Stages(); rows[0].State != events.StateFailed {
		t.Errorf("state = %s, want failed", rows[0].State)
	}
}

func TestModel_SessionEnded(t *testing.T) {
	code := 3
	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{"exited", events.SessionEnded(&code), "exit code 3"},
		{"never started", events.SessionEnded(nil), "not started"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := feed(t, New(Config{Source: &mockSource{}}), tt.ev)
			if done, outcome := m.Finished(); !done || outcome != tt.want {
				t.Errorf("Finished() = %v, %q, want true, %q", done, outcome, tt.want)
			}
		})
	}
}

func TestModel_LogIsBounded(t *testing.T) {
	m := New(Config{Source: &mockSource{}, MaxLines: 5})
	for i := 0; i < 12; i++ {
		m = feed(t, m, events.Log("Client", "stdout", fmt.Sprintf("line %d", i)))
	}
	if m.LineCount() != 5 {
		t.Fatalf("LineCount() = %d, want 5", m.LineCount())
	}
	if m.lines[0].text != "line 7" || m.lines[4].text != "line 11" {
		t.Errorf("kept %q .. %q, want line 7 .. line 11", m.lines[0].text, m.lines[4].text)
	}
}

func TestModel_EventMsgWaitsForNext(t *testing.T) {
	src := &mockSource{queue: []events.Event{events.Log("Client", "stdout", "hello")}}
	m := New(Config{Source: src})

	_, cmd := update(t, m, EventMsg{Event: events.Status(events.SeverityInfo, "Playing...")})
	if cmd == nil {
		t.Fatal("EventMsg returned no follow-up cmd")
	}
	msg := cmd()
	ev, ok := msg.(EventMsg)
	if !ok || ev.Event.Text != "hello" {
		t.Fatalf("next msg = %#v, want the queued log line", msg)
	}
	if _, ok := cmd().(ClosedMsg); !ok {
		t.Error("drained source should yield ClosedMsg")
	}
}

func TestWaitForEvent_Channel(t *testing.T) {
	ch := events.NewChannel(4)
	ch.Emit(events.Status(events.SeverityInfo, "Connecting..."))
	ch.Close()

	cmd := waitForEvent(ch)
	if msg, ok := cmd().(EventMsg); !ok || msg.Event.Message != "Connecting..." {
		t.Fatalf("first msg = %#v", msg)
	}
	if _, ok := cmd().(ClosedMsg); !ok {
		t.Error("closed channel should yield ClosedMsg")
	}
}

// =============================================================================
// Tests: Keys
// =============================================================================

func TestModel_StopKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c", "esc"} {
		t.Run(k, func(t *testing.T) {
			stops := 0
			m := New(Config{Source: &mockSource{}, Stop: func() { stops++ }})

			m, cmd := update(t, m, key(k))
			if !m.Stopping() || m.quitting || cmd != nil {
				t.Fatalf("first press: stopping=%v quitting=%v cmd=%v", m.Stopping(), m.quitting, cmd != nil)
			}
			if msg, _ := m.Status(); msg != "Stopping..." {
				t.Errorf("status = %q", msg)
			}

			m, cmd = update(t, m, key(k))
			if !m.quitting || cmd == nil {
				t.Error("second press should quit")
			}
			if stops != 1 {
				t.Errorf("Stop called %d times, want 1", stops)
			}
		})
	}
}

func TestModel_QuitWithoutSource(t *testing.T) {
	m, cmd := update(t, New(Config{}), key("q"))
	if !m.quitting || cmd == nil {
		t.Error("q without a source should quit at once")
	}
}

func TestModel_OtherKeysIgnored(t *testing.T) {
	m, _ := update(t, New(Config{Source: &mockSource{}}), key("x"))
	if m.Stopping() || m.quitting {
		t.Error("x should not stop or quit")
	}
}

func TestModel_ClosedQuits(t *testing.T) {
	m, cmd := update(t, New(Config{Source: &mockSource{}}), ClosedMsg{})
	if !m.quitting || cmd == nil {
		t.Error("ClosedMsg should quit")
	}
	if done, _ := m.Finished(); !done {
		t.Error("ClosedMsg should finish the run")
	}
	if m.View() != "" {
		t.Error("View() should be empty after quitting")
	}
}

// =============================================================================
// Tests: Window Size / Tick
// =============================================================================

func TestModel_WindowSizeResizesLogs(t *testing.T) {
	m := New(Config{Stages: []string{"Segmenter", "Dispatcher"}})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d", m.width, m.height)
	}
	if m.logs.Width != 116 {
		t.Errorf("log width = %d, want 116", m.logs.Width)
	}
	if want := 40 - chromeLines - 2; m.logs.Height != want {
		t.Errorf("log height = %d, want %d", m.logs.Height, want)
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 10, Height: 5})
	if m.logs.Width < 20 || m.logs.Height < 3 {
		t.Errorf("tiny window gave %dx%d", m.logs.Width, m.logs.Height)
	}
}

func TestModel_TickReadsDrops(t *testing.T) {
	src := &mockSource{dropped: 7}
	m, cmd := update(t, New(Config{Source: src}), TickMsg(time.Now()))
	if m.dropped != 7 {
		t.Errorf("dropped = %d, want 7", m.dropped)
	}
	if cmd == nil {
		t.Error("tick should reschedule while running")
	}

	m = feed(t, m, events.PipelineCompleted(events.StateSucceeded))
	if _, cmd := update(t, m, TickMsg(time.Now())); cmd != nil {
		t.Error("tick should stop once finished")
	}
}

func TestModel_ElapsedFreezesWhenFinished(t *testing.T) {
	m := New(Config{Source: &mockSource{}})
	m = feed(t, m, events.PipelineCompleted(events.StateSucceeded))
	first := m.Elapsed()
	time.Sleep(10 * time.Millisecond)
	if m.Elapsed() != first {
		t.Error("Elapsed() kept running after the pipeline finished")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	m := New(Config{
		Title:       "stream",
		Target:      "example.com:8080",
		Stages:      []string{"Segmenter", "Dispatcher"},
		Source:      &mockSource{},
		MetricsAddr: "127.0.0.1:9100",
	})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	m = feed(t, m,
		events.Status(events.SeverityError, "Segmenter failed with exit code 1"),
		events.Log("Segmenter", "stderr", "bad input"),
	)

	view := m.View()
	for _, want := range []string{
		"wavyctl stream",
		"example.com:8080",
		"Segmenter failed with exit code 1",
		"Segmenter",
		"Dispatcher",
		"pending",
		"[Segmenter]",
		"bad input",
		"Output (1 lines)",
		"http://127.0.0.1:9100/metrics",
		"q stop",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ViewEmpty(t *testing.T) {
	view := New(Config{}).View()
	for _, want := range []string{"Waiting...", "no stages yet", "no output yet", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ViewStopping(t *testing.T) {
	m, _ := update(t, New(Config{Source: &mockSource{}}), key("q"))
	if !strings.Contains(m.View(), "q again to leave") {
		t.Error("footer should offer a second q while stopping")
	}
}
