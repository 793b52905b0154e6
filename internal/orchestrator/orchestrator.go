// Package orchestrator runs ordered pipelines of supervised processes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
	"github.com/randomizedcoder/go-wavy-control/internal/supervisor"
)

var (
	// ErrStageFailed is wrapped by every StageError.
	ErrStageFailed = errors.New("stage failed")

	// ErrArtifactMissing means a stage exited cleanly without producing
	// what the next stage needs.
	ErrArtifactMissing = errors.New("expected artifact missing")

	// ErrCancelled is the error of a pipeline stopped by its context. It is
	// a normal way for a streaming run to end, not a failure.
	ErrCancelled = errors.New("pipeline cancelled")
)

// monitorReadyTimeout bounds how long a stage waits for its monitor to
// start watching before the process is spawned anyway.
const monitorReadyTimeout = 2 * time.Second

// StageError reports the stage that halted a pipeline.
type StageError struct {
	Result events.StageResult
}

func (e *StageError) Error() string {
	return e.Result.Summary()
}

func (e *StageError) Unwrap() []error {
	if e.Result.Err != nil {
		return []error{ErrStageFailed, e.Result.Err}
	}
	return []error{ErrStageFailed}
}

// ArtifactError reports a file a stage should have produced.
type ArtifactError struct {
	Stage string
	Path  string
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("%s did not create %s", e.Stage, e.Path)
}

func (e *ArtifactError) Unwrap() error { return ErrArtifactMissing }

// Spawner starts supervised processes. *supervisor.Supervisor implements it.
type Spawner interface {
	Spawn(ctx context.Context, stage string, cmd process.Command) (*supervisor.Handle, error)
}

// Monitor observes a running stage, e.g. by watching the files it writes.
// Run must return promptly once ctx is done.
type Monitor interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

// Stage is one step of a pipeline.
type Stage struct {
	// Name is the display name used to tag the stage's events.
	Name string

	// Build creates the command. It sees the results of every earlier
	// stage. An error fails the stage without spawning anything.
	Build func(prior []events.StageResult) (process.Command, error)

	// Verify runs after a zero exit. An error turns the stage into a
	// failure.
	Verify func(events.StageResult) error

	// Monitor, if set, runs for as long as the process does and has
	// stopped before the stage's StageCompleted event is emitted.
	Monitor Monitor
}

// Pipeline is an ordered list of stages. It is built per run.
type Pipeline struct {
	Name   string
	Stages []Stage
}

// Result is the terminal state of a pipeline run.
type Result struct {
	RunID    string
	Outcome  events.State
	Stages   []events.StageResult
	Duration time.Duration

	// Err is nil on success, wraps ErrCancelled on cancellation and is a
	// *StageError or a setup error otherwise.
	Err error
}

// Success reports whether every stage succeeded.
func (r Result) Success() bool {
	return r.Outcome == events.StateSucceeded
}

// Callbacks contains optional callback functions for pipeline events.
type Callbacks struct {
	// OnStageCompleted is called for every stage that reached a terminal
	// state.
	OnStageCompleted func(res events.StageResult)

	// OnPipelineCompleted is called once per run.
	OnPipelineCompleted func(res Result)
}

// Config holds configuration for creating an Orchestrator.
type Config struct {
	Spawner   Spawner
	Emitter   events.Emitter
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Orchestrator runs pipelines one stage at a time.
type Orchestrator struct {
	spawner   Spawner
	emitter   events.Emitter
	logger    *slog.Logger
	callbacks Callbacks
}

// New creates a new Orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Orchestrator{
		spawner:   cfg.Spawner,
		emitter:   cfg.Emitter,
		logger:    cfg.Logger,
		callbacks: cfg.Callbacks,
	}
}

// Run executes p. Stage N+1 is built only after stage N succeeded and
// passed its Verify hook. Cancelling ctx terminates the running stage and
// starts nothing further. Exactly one PipelineCompleted event is emitted.
func (o *Orchestrator) Run(ctx context.Context, p Pipeline) Result {
	start := time.Now()
	runID := events.RunFromContext(ctx)
	res := Result{RunID: runID, Outcome: events.StateSucceeded}

	o.logger.Info("pipeline_starting", "pipeline", p.Name, "run_id", runID, "stages", len(p.Stages))

	for _, st := range p.Stages {
		if ctx.Err() != nil {
			o.logger.Info("pipeline_cancelled_between_stages", "next_stage", st.Name)
			res.Outcome = events.StateTerminated
			res.Err = ErrCancelled
			break
		}

		sr := o.runStage(ctx, st, res.Stages)
		res.Stages = append(res.Stages, sr)
		o.completeStage(runID, sr)

		if sr.Succeeded() {
			continue
		}
		if sr.State == events.StateTerminated {
			res.Outcome = events.StateTerminated
			res.Err = ErrCancelled
		} else {
			res.Outcome = events.StateFailed
			res.Err = &StageError{Result: sr}
		}
		break
	}

	res.Duration = time.Since(start)
	o.finish(runID, res)
	return res
}

// Fail ends a run that could not be set up. Nothing is spawned.
func (o *Orchestrator) Fail(ctx context.Context, err error) Result {
	runID := events.RunFromContext(ctx)
	o.emitter.Emit(events.Status(events.SeverityError, "%v", err).WithRun(runID))
	res := Result{RunID: runID, Outcome: events.StateFailed, Err: err}
	o.finish(runID, res)
	return res
}

func (o *Orchestrator) finish(runID string, res Result) {
	o.logger.Info("pipeline_completed",
		"run_id", runID,
		"outcome", string(res.Outcome),
		"stages", len(res.Stages),
		"duration", res.Duration.String(),
	)
	if o.callbacks.OnPipelineCompleted != nil {
		o.callbacks.OnPipelineCompleted(res)
	}
	o.emitter.Emit(events.PipelineCompleted(res.Outcome).WithRun(runID))
}

func (o *Orchestrator) completeStage(runID string, sr events.StageResult) {
	if o.callbacks.OnStageCompleted != nil {
		o.callbacks.OnStageCompleted(sr)
	}
	switch sr.State {
	case events.StateSucceeded:
	case events.StateTerminated:
		o.emitter.Emit(events.Status(events.SeverityInfo, "%s", sr.Summary()).WithRun(runID))
	default:
		o.emitter.Emit(events.Status(events.SeverityError, "%s", sr.Summary()).WithRun(runID))
	}
	o.emitter.Emit(events.StageCompleted(sr).WithRun(runID))
}

// runStage builds, spawns and waits for one stage. The returned result is
// terminal, and the stage's monitor has stopped.
func (o *Orchestrator) runStage(ctx context.Context, st Stage, prior []events.StageResult) events.StageResult {
	runID := events.RunFromContext(ctx)

	cmd, err := st.Build(prior)
	if err != nil {
		o.logger.Error("stage_build_failed", "stage", st.Name, "error", err)
		return events.StageResult{Stage: st.Name, State: events.StateSpawnError, ExitCode: -1, Err: err}
	}

	stopMonitor := o.startMonitor(ctx, st)

	o.emitter.Emit(events.Status(events.SeverityInfo, "Starting %s", st.Name).WithRun(runID))
	h, err := o.spawner.Spawn(ctx, st.Name, cmd)
	if err != nil {
		stopMonitor()
		state := events.StateSpawnError
		if ctx.Err() != nil {
			state = events.StateTerminated
		}
		return events.StageResult{Stage: st.Name, State: state, ExitCode: -1, Err: err}
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		o.logger.Info("stage_cancelled", "stage", st.Name, "pid", h.PID())
		h.Terminate()
	}
	sr := h.Wait()
	stopMonitor()

	if sr.Succeeded() && st.Verify != nil {
		if err := st.Verify(sr); err != nil {
			o.logger.Warn("stage_verify_failed", "stage", st.Name, "error", err)
			sr.State = events.StateFailed
			sr.Err = err
		}
	}
	return sr
}

// startMonitor runs the stage's monitor and returns a function that stops
// it and waits for it to return.
func (o *Orchestrator) startMonitor(ctx context.Context, st Stage) func() {
	if st.Monitor == nil {
		return func() {}
	}

	// Detached from ctx: the monitor must outlive cancellation long enough
	// to report the files written before termination.
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := st.Monitor.Run(mctx); err != nil {
			o.logger.Warn("stage_monitor_failed", "stage", st.Name, "error", err)
		}
	}()

	timer := time.NewTimer(monitorReadyTimeout)
	defer timer.Stop()
	select {
	case <-st.Monitor.Ready():
	case <-done:
	case <-timer.C:
		o.logger.Warn("stage_monitor_not_ready", "stage", st.Name)
	}

	return func() {
		cancel()
		<-done
	}
}
