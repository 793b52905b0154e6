package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
	"github.com/randomizedcoder/go-wavy-control/internal/supervisor"
)

// =============================================================================
// Test Helpers
// =============================================================================

// countingSpawner wraps a real supervisor and records every spawn.
type countingSpawner struct {
	sup *supervisor.Supervisor

	mu     sync.Mutex
	stages []string
}

func newCountingSpawner(rec *events.Recorder, grace time.Duration) *countingSpawner {
	return &countingSpawner{sup: supervisor.New(supervisor.Config{Emitter: rec, GracePeriod: grace})}
}

func (s *countingSpawner) Spawn(ctx context.Context, stage string, cmd process.Command) (*supervisor.Handle, error) {
	s.mu.Lock()
	s.stages = append(s.stages, stage)
	s.mu.Unlock()
	return s.sup.Spawn(ctx, stage, cmd)
}

func (s *countingSpawner) Spawned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stages...)
}

// writeScript writes an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// scriptStage returns a stage running body in a fresh directory.
func scriptStage(t *testing.T, name, body string) Stage {
	t.Helper()
	dir := t.TempDir()
	path := writeScript(t, dir, "stage.sh", body)
	return Stage{
		Name: name,
		Build: func([]events.StageResult) (process.Command, error) {
			return process.NewCommand(path, nil, dir)
		},
	}
}

// describe renders the recorded events compactly for order assertions.
func describe(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindLogLine:
			out = append(out, ev.Stage+":"+ev.Text)
		case events.KindStageCompleted:
			out = append(out, fmt.Sprintf("%s:%s", ev.Stage, ev.Result.State))
		case events.KindPipelineCompleted:
			out = append(out, "pipeline:"+string(ev.Outcome))
		}
	}
	return out
}

// fakeMonitor records when it stops.
type fakeMonitor struct {
	ready   chan struct{}
	stopped chan struct{}
	emitter events.Emitter
}

func newFakeMonitor(emitter events.Emitter) *fakeMonitor {
	return &fakeMonitor{ready: make(chan struct{}), stopped: make(chan struct{}), emitter: emitter}
}

func (m *fakeMonitor) Ready() <-chan struct{} { return m.ready }

func (m *fakeMonitor) Run(ctx context.Context) error {
	close(m.ready)
	<-ctx.Done()
	m.emitter.Emit(events.Log("Monitor", "stdout", "monitor stopped"))
	close(m.stopped)
	return nil
}

// =============================================================================
// Ordering
// =============================================================================

func TestRun_EventOrder(t *testing.T) {
	rec := events.NewRecorder()
	o := New(Config{Spawner: newCountingSpawner(rec, time.Second), Emitter: rec})

	res := o.Run(context.Background(), Pipeline{Stages: []Stage{
		scriptStage(t, "Segmenter", `printf 'L1\nL2\nL3\n'`),
		scriptStage(t, "Dispatcher", `echo D1`),
	}})

	if !res.Success() || res.Err != nil {
		t.Fatalf("Run() = %s / %v, want succeeded", res.Outcome, res.Err)
	}

	want := []string{
		"Segmenter:L1", "Segmenter:L2", "Segmenter:L3",
		"Segmenter:succeeded",
		"Dispatcher:D1",
		"Dispatcher:succeeded",
		"pipeline:succeeded",
	}
	if got := describe(rec.Events()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v\nwant     %v", got, want)
	}
	if n := len(rec.OfKind(events.KindPipelineCompleted)); n != 1 {
		t.Errorf("PipelineCompleted emitted %d times, want 1", n)
	}
}

func TestRun_MonitorStopsBeforeStageCompleted(t *testing.T) {
	rec := events.NewRecorder()
	o := New(Config{Spawner: newCountingSpawner(rec, time.Second), Emitter: rec})

	st := scriptStage(t, "Segmenter", `echo work`)
	mon := newFakeMonitor(rec)
	st.Monitor = mon

	o.Run(context.Background(), Pipeline{Stages: []Stage{st}})

	select {
	case <-mon.stopped:
	default:
		t.Fatal("monitor still running after Run returned")
	}
	want := []string{"Segmenter:work", "Monitor:monitor stopped", "Segmenter:succeeded", "pipeline:succeeded"}
	if got := describe(rec.Events()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v\nwant     %v", got, want)
	}
}

func TestRun_TagsRunID(t *testing.T) {
	rec := events.NewRecorder()
	o := New(Config{Spawner: newCountingSpawner(rec, time.Second), Emitter: rec})

	ctx := events.ContextWithRun(context.Background(), "run-42")
	res := o.Run(ctx, Pipeline{Stages: []Stage{scriptStage(t, "Segmenter", `echo x`)}})

	if res.RunID != "run-42" {
		t.Errorf("RunID = %q", res.RunID)
	}
	for _, ev := range rec.Events() {
		if ev.RunID != "run-42" {
			t.Errorf("%s event has run id %q", ev.Kind, ev.RunID)
		}
	}
}

// =============================================================================
// Failure halts the pipeline
// =============================================================================

func TestRun_FailingStageStopsPipeline(t *testing.T) {
	rec := events.NewRecorder()
	spawner := newCountingSpawner(rec, time.Second)
	o := New(Config{Spawner: spawner, Emitter: rec})

	res := o.Run(context.Background(), Pipeline{Stages: []Stage{
		scriptStage(t, "Segmenter", `echo "bad input" >&2; exit 3`),
		scriptStage(t, "Dispatcher", `echo never`),
	}})

	if res.Outcome != events.StateFailed {
		t.Fatalf("Outcome = %s, want failed", res.Outcome)
	}
	if got := spawner.Spawned(); fmt.Sprint(got) != "[Segmenter]" {
		t.Errorf("spawned %v, want only [Segmenter]", got)
	}
	if !errors.Is(res.Err, ErrStageFailed) {
		t.Errorf("Err = %v, want ErrStageFailed", res.Err)
	}
	var stageErr *StageError
	if !errors.As(res.Err, &stageErr) || stageErr.Result.ExitCode != 3 {
		t.Errorf("Err = %#v, want *StageError with exit code 3", res.Err)
	}
	if len(res.Stages) != 1 || res.Stages[0].StderrTail[0] != "bad input" {
		t.Errorf("Stages = %+v", res.Stages)
	}

	statuses := rec.OfKind(events.KindStatusChanged)
	last := statuses[len(statuses)-1]
	if last.Severity != events.SeverityError {
		t.Errorf("last status = %q (%s), want an error", last.Message, last.Severity)
	}
}

func TestRun_VerifyFailureIsArtifactMissing(t *testing.T) {
	rec := events.NewRecorder()
	spawner := newCountingSpawner(rec, time.Second)
	o := New(Config{Spawner: spawner, Emitter: rec})

	seg := scriptStage(t, "Segmenter", `exit 0`)
	seg.Verify = func(events.StageResult) error {
		return &ArtifactError{Stage: "Segmenter", Path: "index.m3u8"}
	}

	res := o.Run(context.Background(), Pipeline{Stages: []Stage{seg, scriptStage(t, "Dispatcher", `echo never`)}})

	if res.Outcome != events.StateFailed {
		t.Fatalf("Outcome = %s, want failed", res.Outcome)
	}
	if !errors.Is(res.Err, ErrArtifactMissing) || !errors.Is(res.Err, ErrStageFailed) {
		t.Errorf("Err = %v, want ErrArtifactMissing and ErrStageFailed", res.Err)
	}
	if res.Stages[0].ExitCode != 0 || res.Stages[0].State != events.StateFailed {
		t.Errorf("stage = %s/%d, want failed/0", res.Stages[0].State, res.Stages[0].ExitCode)
	}
	if len(spawner.Spawned()) != 1 {
		t.Errorf("spawned %v, want one stage", spawner.Spawned())
	}
	if got := res.Err.Error(); got != "Segmenter failed: Segmenter did not create index.m3u8" {
		t.Errorf("Err.Error() = %q", got)
	}
}

func TestRun_BuildErrorSpawnsNothing(t *testing.T) {
	rec := events.NewRecorder()
	spawner := newCountingSpawner(rec, time.Second)
	o := New(Config{Spawner: spawner, Emitter: rec})

	buildErr := errors.New("hls_segmenter not found")
	res := o.Run(context.Background(), Pipeline{Stages: []Stage{{
		Name:  "Segmenter",
		Build: func([]events.StageResult) (process.Command, error) { return process.Command{}, buildErr },
	}}})

	if res.Outcome != events.StateFailed || !errors.Is(res.Err, buildErr) {
		t.Errorf("Run() = %s / %v", res.Outcome, res.Err)
	}
	if len(spawner.Spawned()) != 0 {
		t.Errorf("spawned %v, want nothing", spawner.Spawned())
	}
	if res.Stages[0].State != events.StateSpawnError {
		t.Errorf("stage state = %s, want spawn_error", res.Stages[0].State)
	}
}

func TestRun_BuildSeesPriorResults(t *testing.T) {
	rec := events.NewRecorder()
	o := New(Config{Spawner: newCountingSpawner(rec, time.Second), Emitter: rec})

	var seen []events.StageResult
	second := scriptStage(t, "Dispatcher", `exit 0`)
	build := second.Build
	second.Build = func(prior []events.StageResult) (process.Command, error) {
		seen = prior
		return build(prior)
	}

	o.Run(context.Background(), Pipeline{Stages: []Stage{scriptStage(t, "Segmenter", `exit 0`), second}})

	if len(seen) != 1 || seen[0].Stage != "Segmenter" || !seen[0].Succeeded() {
		t.Errorf("prior results = %+v", seen)
	}
}

// =============================================================================
// Cancellation
// =============================================================================

func TestRun_CancelDuringFirstStage(t *testing.T) {
	rec := events.NewRecorder()
	spawner := newCountingSpawner(rec, 2*time.Second)
	o := New(Config{Spawner: spawner, Emitter: rec})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := scriptStage(t, "Segmenter", `trap 'echo got-term; exit 0' TERM
echo ready
while :; do sleep 0.05; done`)

	done := make(chan Result, 1)
	go func() {
		done <- o.Run(ctx, Pipeline{Stages: []Stage{first, scriptStage(t, "Dispatcher", `echo never`)}})
	}()

	if _, ok := rec.WaitFor(func(ev events.Event) bool { return ev.Text == "ready" }, 5*time.Second); !ok {
		t.Fatal("first stage never started")
	}

	cancelled := time.Now()
	cancel()

	var res Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if elapsed := time.Since(cancelled); elapsed > 2*time.Second {
		t.Errorf("termination took %v, longer than the grace period", elapsed)
	}
	if res.Outcome != events.StateTerminated || !errors.Is(res.Err, ErrCancelled) {
		t.Errorf("Run() = %s / %v, want terminated / ErrCancelled", res.Outcome, res.Err)
	}
	if res.Stages[0].State != events.StateTerminated {
		t.Errorf("stage state = %s, want terminated", res.Stages[0].State)
	}
	if got := spawner.Spawned(); fmt.Sprint(got) != "[Segmenter]" {
		t.Errorf("spawned %v, want only [Segmenter]", got)
	}
	if got := logTexts(rec.Events()); fmt.Sprint(got) != "[ready got-term]" {
		t.Errorf("log lines = %v, want SIGTERM to reach the trap", got)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	rec := events.NewRecorder()
	spawner := newCountingSpawner(rec, time.Second)
	o := New(Config{Spawner: spawner, Emitter: rec})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Run(ctx, Pipeline{Stages: []Stage{scriptStage(t, "Segmenter", `echo never`)}})

	if res.Outcome != events.StateTerminated {
		t.Errorf("Outcome = %s, want terminated", res.Outcome)
	}
	if len(spawner.Spawned()) != 0 || len(res.Stages) != 0 {
		t.Errorf("spawned %v / stages %v, want nothing", spawner.Spawned(), res.Stages)
	}
	if n := len(rec.OfKind(events.KindPipelineCompleted)); n != 1 {
		t.Errorf("PipelineCompleted emitted %d times, want 1", n)
	}
}

func TestFail_EmitsErrorAndCompletion(t *testing.T) {
	rec := events.NewRecorder()
	var completed []Result
	o := New(Config{Emitter: rec, Callbacks: Callbacks{
		OnPipelineCompleted: func(r Result) { completed = append(completed, r) },
	}})

	res := o.Fail(context.Background(), errors.New("URL must include a port"))

	if res.Outcome != events.StateFailed {
		t.Errorf("Outcome = %s", res.Outcome)
	}
	evs := rec.Events()
	if len(evs) != 2 || evs[0].Kind != events.KindStatusChanged || evs[1].Kind != events.KindPipelineCompleted {
		t.Fatalf("events = %v", describe(evs))
	}
	if evs[1].Success {
		t.Error("PipelineCompleted.Success = true")
	}
	if len(completed) != 1 {
		t.Errorf("OnPipelineCompleted called %d times", len(completed))
	}
}

func logTexts(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		if ev.Kind == events.KindLogLine {
			out = append(out, ev.Text)
		}
	}
	return out
}
