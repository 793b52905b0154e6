package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
)

// DefaultGracePeriod is the time between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// DefaultDrainTimeout bounds how long output is read after the process
// itself has exited. Children that inherited its stdout or stderr are
// killed once it passes.
const DefaultDrainTimeout = time.Second

// ErrSpawn is wrapped by every SpawnError.
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports a process that could not be started. No process
// exists when this is returned.
type SpawnError struct {
	Stage string
	Path  string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s (%s): %v", e.Stage, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// Callbacks contains optional callback functions for process events.
type Callbacks struct {
	// OnStateChange is called when a process changes state.
	OnStateChange func(stage string, oldState, newState State)

	// OnStart is called when a process has started.
	OnStart func(stage string, pid int)

	// OnExit is called once a process has terminated and its output is
	// fully drained.
	OnExit func(stage string, state State, exitCode int, uptime time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Emitter     events.Emitter
	Logger      *slog.Logger
	GracePeriod time.Duration
	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
	TailLines    int
	Callbacks    Callbacks
}

// Supervisor starts processes and streams their output as events.
// It is safe for concurrent use; every Spawn returns an independent Handle.
type Supervisor struct {
	emitter   events.Emitter
	logger    *slog.Logger
	grace     time.Duration
	drain     time.Duration
	tailLines int
	callbacks Callbacks
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = logging.DefaultTailLines
	}

	return &Supervisor{
		emitter:   cfg.Emitter,
		logger:    cfg.Logger,
		grace:     cfg.GracePeriod,
		drain:     cfg.DrainTimeout,
		tailLines: cfg.TailLines,
		callbacks: cfg.Callbacks,
	}
}

// Spawn starts cmd and returns a handle to the running process. Every
// output line is emitted as a LogLine event tagged with stage.
//
// ctx is only consulted before the process starts and for its run id;
// the process lives until it exits or Terminate is called.
func (s *Supervisor) Spawn(ctx context.Context, stage string, cmd process.Command) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cmd.IsZero() {
		return nil, &SpawnError{Stage: stage, Err: errors.New("empty command")}
	}

	// The binary may have disappeared since the command was built.
	if err := process.CheckExecutable(cmd.Path()); err != nil {
		s.logger.Error("spawn_failed", "stage", stage, "path", cmd.Path(), "error", err)
		return nil, &SpawnError{Stage: stage, Path: cmd.Path(), Err: err}
	}

	h := &Handle{
		sup:    s,
		stage:  stage,
		runID:  events.RunFromContext(ctx),
		output: logging.NewOutputHandler(stage, s.logger, s.tailLines),
		state:  StateStarting,
		done:   make(chan struct{}),
	}
	s.notifyState(stage, "", StateStarting)

	c := cmd.Cmd()
	// Own process group so termination reaches any children.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// os.Pipe, not StdoutPipe: children may keep the write ends open,
	// and cmd.Wait must still reap the process as soon as it exits.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, h.spawnFailed(cmd, err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, h.spawnFailed(cmd, err)
	}
	c.Stdout = stdoutW
	c.Stderr = stderrW

	h.started = time.Now()
	err = c.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		return nil, h.spawnFailed(cmd, err)
	}

	h.cmd = c
	h.pid = c.Process.Pid
	h.setState(StateRunning)

	s.logger.Info("stage_started",
		"stage", stage,
		"pid", h.pid,
		"command", cmd.String(),
		"dir", cmd.Dir(),
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(stage, h.pid)
	}

	h.pipes = []*os.File{stdout, stderr}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		defer stdout.Close()
		streamLines(stdout, func(line string) { h.forward("stdout", line) })
	}()
	go func() {
		defer readers.Done()
		defer stderr.Close()
		streamLines(stderr, func(line string) { h.forward("stderr", line) })
	}()

	go h.wait(&readers)

	return h, nil
}

// Run spawns cmd, waits for it, and terminates it if ctx is done first.
func (s *Supervisor) Run(ctx context.Context, stage string, cmd process.Command) Result {
	h, err := s.Spawn(ctx, stage, cmd)
	if err != nil {
		state := StateSpawnError
		if ctx.Err() != nil {
			state = StateTerminated
		}
		return Result{Stage: stage, State: state, ExitCode: -1, Err: err}
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Terminate()
	}
	return h.Wait()
}

func (s *Supervisor) notifyState(stage string, oldState, newState State) {
	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(stage, oldState, newState)
	}
}

// signalGroup delivers sig to the process group led by pid. Every
// process is spawned with Setpgid, so the group id is its pid and stays
// valid after the leader is reaped while children remain.
func signalGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
