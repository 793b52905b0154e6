package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/history"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/metrics"
	"github.com/randomizedcoder/go-wavy-control/internal/outdir"
	"github.com/randomizedcoder/go-wavy-control/internal/resolver"
)

// ErrClearNotConfirmed is returned for a non-empty output directory when
// the caller did not agree to delete its contents.
var ErrClearNotConfirmed = errors.New("output directory is not empty and clearing was not confirmed")

// BinaryResolver locates the wavy executables. *resolver.Resolver
// implements it.
type BinaryResolver interface {
	ResolveAll(names ...string) (map[string]string, error)
}

// HistoryRecorder persists finished runs. *history.Store implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) error
}

// RunnerConfig holds configuration for creating a Runner.
type RunnerConfig struct {
	Spawner  Spawner
	Resolver BinaryResolver
	Emitter  events.Emitter
	Logger   *slog.Logger

	// Manifest defaults to process.ManifestName.
	Manifest string

	// ProgressInterval rate-limits segment progress messages.
	ProgressInterval time.Duration

	// Metrics and History are optional.
	Metrics *metrics.Collector
	History HistoryRecorder
}

// Runner turns a stream request into a pipeline run: it validates the
// request, resolves the executables, locks and clears the output
// directory, runs the pipeline and records the outcome.
type Runner struct {
	cfg  RunnerConfig
	orch *Orchestrator
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	r := &Runner{cfg: cfg}
	r.orch = New(Config{
		Spawner: cfg.Spawner,
		Emitter: cfg.Emitter,
		Logger:  cfg.Logger,
		Callbacks: Callbacks{
			OnStageCompleted:    r.onStageCompleted,
			OnPipelineCompleted: r.onPipelineCompleted,
		},
	})
	return r
}

// Stream runs the streaming pipeline for req. It blocks until the
// pipeline reaches a terminal state; cancel ctx to stop the dispatcher.
func (r *Runner) Stream(ctx context.Context, req config.StreamRequest) Result {
	runID := uuid.NewString()
	ctx = events.ContextWithRun(ctx, runID)
	started := time.Now()

	res := r.stream(ctx, req)
	res.Duration = time.Since(started)
	r.record(ctx, req, started, res)
	return res
}

func (r *Runner) stream(ctx context.Context, req config.StreamRequest) Result {
	logger := r.cfg.Logger.With("run_id", events.RunFromContext(ctx))

	server, err := req.Validate()
	if err != nil {
		logger.Warn("stream_request_invalid", "error", err)
		return r.orch.Fail(ctx, err)
	}

	empty, err := config.ValidateOutputDir(req.OutputDir)
	if err != nil {
		return r.orch.Fail(ctx, err)
	}
	if !empty && !req.ConfirmClear {
		return r.orch.Fail(ctx, fmt.Errorf("%s: %w", req.OutputDir, ErrClearNotConfirmed))
	}

	logger.Info("stream_request_accepted",
		"input", req.Input,
		"output_dir", req.OutputDir,
		"server", server.Address(),
		"clear", !empty,
	)

	bins, err := r.cfg.Resolver.ResolveAll(resolver.Segmenter, resolver.Dispatcher)
	if err != nil {
		logger.Error("binary_resolution_failed", "error", err)
		return r.orch.Fail(ctx, err)
	}

	lock, err := outdir.Acquire(req.OutputDir)
	if err != nil {
		return r.orch.Fail(ctx, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("output_dir_unlock_failed", "dir", req.OutputDir, "error", err)
		}
	}()

	if !empty {
		r.cfg.Emitter.Emit(events.Status(events.SeverityWarning,
			"Deleting the contents of %s", req.OutputDir).WithRun(events.RunFromContext(ctx)))
		failures, err := outdir.Clear(req.OutputDir, r.cfg.Emitter)
		if err != nil {
			return r.orch.Fail(ctx, err)
		}
		if failures > 0 {
			logger.Warn("output_dir_partially_cleared", "dir", req.OutputDir, "failures", failures)
		}
	}

	spec := StreamSpec{
		Input:            req.Input,
		OutputDir:        req.OutputDir,
		Server:           server,
		RunID:            events.RunFromContext(ctx),
		Manifest:         r.cfg.Manifest,
		Progress:         r.cfg.Emitter,
		ProgressInterval: r.cfg.ProgressInterval,
		Logger:           logger,
	}
	if r.cfg.Metrics != nil {
		spec.OnSegment = r.cfg.Metrics.SegmentWritten
	}

	return r.orch.Run(ctx, Streaming(spec, Binaries{
		Segmenter:  bins[resolver.Segmenter],
		Dispatcher: bins[resolver.Dispatcher],
	}))
}

func (r *Runner) onStageCompleted(res events.StageResult) {
	if r.cfg.Metrics != nil && res.State == events.StateSpawnError {
		r.cfg.Metrics.SpawnFailed(res.Stage)
	}
}

func (r *Runner) onPipelineCompleted(res Result) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.PipelineCompleted(res.Outcome)
	}
}

// record stores the run in history. A recording failure is logged only.
func (r *Runner) record(ctx context.Context, req config.StreamRequest, started time.Time, res Result) {
	if r.cfg.History == nil {
		return
	}

	run := history.Run{
		ID:        res.RunID,
		Kind:      history.KindStream,
		Outcome:   res.Outcome,
		StartedAt: started,
		Duration:  res.Duration,
		Input:     req.Input,
		OutputDir: req.OutputDir,
		Target:    req.ServerURL,
	}
	if res.Err != nil && !errors.Is(res.Err, ErrCancelled) {
		run.Error = res.Err.Error()
	}
	for _, sr := range res.Stages {
		run.Stages = append(run.Stages, history.StageFromResult(sr))
	}

	// The run context is usually cancelled by now.
	if err := r.cfg.History.Record(context.WithoutCancel(ctx), run); err != nil {
		r.cfg.Logger.Warn("history_record_failed", "run_id", run.ID, "error", err)
	}
}
