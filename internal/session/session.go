// Package session controls the single playback client of an interaction
// window.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/history"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/metrics"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
	"github.com/randomizedcoder/go-wavy-control/internal/resolver"
	"github.com/randomizedcoder/go-wavy-control/internal/supervisor"
)

// ErrAlreadyRunning is returned by Play while a client is starting,
// playing or stopping.
var ErrAlreadyRunning = errors.New("a playback session is already running")

// StageClient tags the client's output lines.
const StageClient = "Client"

// Status messages.
const (
	StatusConnecting = "Connecting..."
	StatusPlaying    = "Playing..."
	StatusCompleted  = "Playback completed"
	StatusStopped    = "Stopped"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateStopping State = "stopping"
)

// Spawner starts supervised processes. *supervisor.Supervisor implements it.
type Spawner interface {
	Spawn(ctx context.Context, stage string, cmd process.Command) (*supervisor.Handle, error)
}

// ClientResolver locates the client executable. *resolver.Resolver
// implements it.
type ClientResolver interface {
	Resolve(name string) (string, error)
}

// HistoryRecorder persists finished sessions. *history.Store implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Config holds configuration for creating a Controller.
type Config struct {
	Spawner  Spawner
	Resolver ClientResolver
	Emitter  events.Emitter
	Logger   *slog.Logger

	// Metrics and History are optional.
	Metrics *metrics.Collector
	History HistoryRecorder
}

// Controller owns at most one client process. All methods are safe for
// concurrent use; the mutex is never held across process I/O.
type Controller struct {
	cfg Config

	mu            sync.Mutex
	state         State
	handle        *supervisor.Handle
	stopRequested bool
	done          chan struct{}
	runID         string
	last          *events.StageResult
}

// New creates an idle controller.
func New(cfg Config) *Controller {
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{cfg: cfg, state: StateIdle, done: done}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current session ends. When idle it returns an
// already closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Result returns the outcome of the last session whose client ran, or
// nil while one is running or none has.
func (c *Controller) Result() *events.StageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	res := *c.last
	return &res
}

// Play validates cc and starts the client. It returns once the process is
// running (or failed to start); the session then runs in the background
// until the client exits or Stop is called.
func (c *Controller) Play(ctx context.Context, cc config.ClientConfig) error {
	if err := cc.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	c.stopRequested = false
	c.runID = uuid.NewString()
	c.done = make(chan struct{})
	c.last = nil
	runID, done := c.runID, c.done
	c.mu.Unlock()

	ctx = events.ContextWithRun(ctx, runID)
	logger := c.cfg.Logger.With("run_id", runID)
	started := time.Now()

	c.emit(events.Status(events.SeverityInfo, StatusConnecting).WithRun(runID))

	h, err := c.spawn(ctx, cc)
	if err != nil {
		logger.Error("session_start_failed", "client", cc.String(), "error", err)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SpawnFailed(StageClient)
		}
		c.emit(events.Status(events.SeverityError, "Error: %v", err).WithRun(runID))
		c.end(runID, nil)
		c.record(ctx, cc, started, events.StateSpawnError, nil, err.Error())
		c.idle(done)
		return err
	}

	c.mu.Lock()
	c.handle = h
	c.state = StatePlaying
	stop := c.stopRequested
	c.mu.Unlock()

	logger.Info("session_playing", "client", cc.String(), "pid", h.PID())
	c.emit(events.Status(events.SeverityInfo, StatusPlaying).WithRun(runID))

	go c.watch(ctx, cc, h, started, done)

	if stop {
		// Stop arrived while the process was starting.
		go c.terminate(h)
	}
	return nil
}

// Stop terminates the client and returns once the session is idle again.
// It is a no-op when idle. ctx bounds the wait, not the termination.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateStarting:
		c.stopRequested = true
	case StatePlaying:
		c.state = StateStopping
		go c.terminate(c.handle)
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) terminate(h *supervisor.Handle) {
	c.mu.Lock()
	if c.state == StatePlaying {
		c.state = StateStopping
	}
	c.mu.Unlock()
	h.Terminate()
}

func (c *Controller) spawn(ctx context.Context, cc config.ClientConfig) (*supervisor.Handle, error) {
	path, err := c.cfg.Resolver.Resolve(resolver.Client)
	if err != nil {
		return nil, err
	}
	cmd, err := process.ClientCommand(path, cc.ClientIndex, cc.ServerHost)
	if err != nil {
		return nil, err
	}
	return c.cfg.Spawner.Spawn(ctx, StageClient, cmd)
}

// watch waits for the client to exit and moves the session back to idle
// once every event of the session has been emitted.
func (c *Controller) watch(ctx context.Context, cc config.ClientConfig, h *supervisor.Handle, started time.Time, done chan struct{}) {
	res := h.Wait()
	runID := events.RunFromContext(ctx)

	c.mu.Lock()
	c.last = &res
	c.mu.Unlock()

	c.cfg.Logger.Info("session_ended",
		"run_id", runID,
		"state", string(res.State),
		"exit_code", res.ExitCode,
		"uptime", res.Duration.String(),
	)

	var errText string
	switch {
	case res.State == events.StateTerminated:
		c.emit(events.Status(events.SeverityInfo, StatusStopped).WithRun(runID))
	case res.ExitCode == 0:
		c.emit(events.Status(events.SeverityInfo, StatusCompleted).WithRun(runID))
	default:
		errText = failureText(res)
		c.emit(events.Status(events.SeverityError, "Error: %s", errText).WithRun(runID))
	}

	code := res.ExitCode
	c.end(runID, &code)
	c.record(ctx, cc, started, res.State, &res, errText)
	c.idle(done)
}

// idle ends the session: a new Play is accepted only from here on, so no
// event of the next session can precede this one's SessionEnded.
func (c *Controller) idle(done chan struct{}) {
	c.mu.Lock()
	c.state = StateIdle
	c.handle = nil
	c.mu.Unlock()
	close(done)
}

// failureText prefers the client's own words over the exit code.
func failureText(res events.StageResult) string {
	if len(res.StderrTail) > 0 {
		return strings.Join(res.StderrTail, "\n")
	}
	return fmt.Sprintf("client exited with code %d", res.ExitCode)
}

func (c *Controller) end(runID string, exitCode *int) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionEnded(exitCode)
	}
	c.emit(events.SessionEnded(exitCode).WithRun(runID))
}

func (c *Controller) emit(ev events.Event) {
	c.cfg.Emitter.Emit(ev)
}

func (c *Controller) record(ctx context.Context, cc config.ClientConfig, started time.Time, outcome events.State, res *events.StageResult, errText string) {
	if c.cfg.History == nil {
		return
	}
	run := history.Run{
		ID:        events.RunFromContext(ctx),
		Kind:      history.KindPlay,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  time.Since(started),
		Target:    cc.ServerHost,
		Error:     errText,
	}
	if res != nil {
		run.Stages = []history.Stage{history.StageFromResult(*res)}
	}
	if err := c.cfg.History.Record(context.WithoutCancel(ctx), run); err != nil {
		c.cfg.Logger.Warn("history_record_failed", "run_id", run.ID, "error", err)
	}
}
