package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
)

// Handle is one live OS process. It is owned by whoever called Spawn and
// must not be shared.
type Handle struct {
	sup     *Supervisor
	stage   string
	runID   string
	cmd     *exec.Cmd
	pid     int
	started time.Time
	output  *logging.OutputHandler
	pipes   []*os.File

	mu          sync.Mutex
	state       State
	exited      bool
	terminating bool

	termOnce sync.Once
	done     chan struct{}
	result   Result
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.pid
}

// Stage returns the display name the process was spawned under.
func (h *Handle) Stage() string {
	return h.stage
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the process has terminated and all of its output
// has been emitted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process has terminated and its output has been
// drained. Call it from a background goroutine only.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Terminate sends SIGTERM to the process group and, if the process is
// still alive after the grace period, SIGKILL. It returns once the
// process has been reaped and its output drained. A process that had
// already exited keeps its own outcome; only children left holding its
// output are signalled. Calling it more than once is harmless.
func (h *Handle) Terminate() Result {
	h.termOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		h.mu.Lock()
		live := !h.exited && !exitPending(h.pid)
		h.terminating = live
		h.mu.Unlock()

		if !live {
			h.sup.logger.Debug("stage_already_exited", "stage", h.stage, "pid", h.pid)
			if err := signalGroup(h.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
				h.sup.logger.Warn("signal_failed", "stage", h.stage, "pid", h.pid, "signal", "SIGTERM", "error", err)
			}
			return
		}

		h.sup.logger.Info("stage_terminating", "stage", h.stage, "pid", h.pid)
		if err := signalGroup(h.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			h.sup.logger.Warn("signal_failed", "stage", h.stage, "pid", h.pid, "signal", "SIGTERM", "error", err)
		}

		timer := time.NewTimer(h.sup.grace)
		defer timer.Stop()

		select {
		case <-h.done:
		case <-timer.C:
			h.sup.logger.Warn("force_killing_process",
				"stage", h.stage,
				"pid", h.pid,
				"grace_period", h.sup.grace.String(),
			)
			if err := signalGroup(h.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				h.sup.logger.Warn("signal_failed", "stage", h.stage, "pid", h.pid, "signal", "SIGKILL", "error", err)
			}
		}
	})
	return h.Wait()
}

// forward emits one output line.
func (h *Handle) forward(stream, line string) {
	line = h.output.HandleLine(stream, line)
	h.sup.emitter.Emit(events.Log(h.stage, stream, line).WithRun(h.runID))
}

// wait reaps the process as soon as it exits, then drains its output.
func (h *Handle) wait(readers *sync.WaitGroup) {
	waitErr := h.cmd.Wait()
	uptime := time.Since(h.started)
	exitCode := extractExitCode(waitErr)

	h.mu.Lock()
	h.exited = true
	var state State
	switch {
	case h.terminating:
		state = StateTerminated
	case exitCode == 0:
		state = StateSucceeded
	default:
		state = StateFailed
	}
	h.mu.Unlock()

	h.drain(readers)

	h.result = Result{
		Stage:      h.stage,
		State:      state,
		ExitCode:   exitCode,
		Output:     h.output.Recent(),
		StderrTail: h.output.Tail(),
		Duration:   uptime,
	}
	h.setState(state)

	h.sup.logger.Info("process_exited",
		"stage", h.stage,
		"pid", h.pid,
		"state", string(state),
		"exit_code", exitCode,
		"uptime", uptime.String(),
	)
	if h.sup.callbacks.OnExit != nil {
		h.sup.callbacks.OnExit(h.stage, state, exitCode, uptime)
	}

	close(h.done)
}

// drain waits for both readers to reach EOF. Children still holding the
// pipes after the drain timeout are killed, and after a second timeout
// the read ends are closed so the readers return regardless.
func (h *Handle) drain(readers *sync.WaitGroup) {
	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	timer := time.NewTimer(h.sup.drain)
	defer timer.Stop()

	select {
	case <-drained:
		return
	case <-timer.C:
	}

	h.sup.logger.Warn("output_held_open",
		"stage", h.stage,
		"pid", h.pid,
		"drain_timeout", h.sup.drain.String(),
	)
	if err := signalGroup(h.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		h.sup.logger.Warn("signal_failed", "stage", h.stage, "pid", h.pid, "signal", "SIGKILL", "error", err)
	}

	timer.Reset(h.sup.drain)
	select {
	case <-drained:
		return
	case <-timer.C:
	}
	closeAll(h.pipes...)
	<-drained
}

// spawnFailed records a start failure and builds the error.
func (h *Handle) spawnFailed(cmd process.Command, err error) error {
	h.setState(StateSpawnError)
	h.sup.logger.Error("spawn_failed", "stage", h.stage, "path", cmd.Path(), "error", err)
	return &SpawnError{Stage: h.stage, Path: cmd.Path(), Err: err}
}

// setState updates the state and calls the callback if registered.
func (h *Handle) setState(newState State) {
	h.mu.Lock()
	oldState := h.state
	h.state = newState
	h.mu.Unlock()

	h.sup.notifyState(h.stage, oldState, newState)
}
