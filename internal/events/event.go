// Package events carries status and process output from background
// execution to a single observer, in emission order.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the variant carried by an Event.
type Kind int

const (
	// KindStatusChanged is a human-readable status update.
	KindStatusChanged Kind = iota

	// KindLogLine is one complete line of process output.
	KindLogLine

	// KindStageCompleted reports the terminal state of one pipeline stage.
	KindStageCompleted

	// KindPipelineCompleted reports the terminal state of a whole pipeline.
	KindPipelineCompleted

	// KindSessionEnded reports that the playback process has gone away.
	KindSessionEnded
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindStatusChanged:
		return "status_changed"
	case KindLogLine:
		return "log_line"
	case KindStageCompleted:
		return "stage_completed"
	case KindPipelineCompleted:
		return "pipeline_completed"
	case KindSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Severity grades a status message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a supervised process, a pipeline stage,
// or a whole pipeline.
type State string

const (
	StatePending    State = "pending"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
	StateSpawnError State = "spawn_error"
)

// IsTerminal returns true once no further transition can happen.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTerminated, StateSpawnError:
		return true
	default:
		return false
	}
}

// StageResult is created when a stage's process has terminated.
type StageResult struct {
	Stage    string
	State    State
	ExitCode int

	// Output holds the most recent lines of combined output, oldest first.
	Output []string

	// StderrTail holds the most recent stderr lines, oldest first.
	StderrTail []string

	Duration time.Duration

	// Err explains a non-success state (spawn error, missing artifact).
	Err error
}

// Succeeded reports whether the stage finished cleanly.
func (r StageResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// Summary returns a one-line description suitable for a status message.
func (r StageResult) Summary() string {
	switch r.State {
	case StateSucceeded:
		return fmt.Sprintf("%s finished", r.Stage)
	case StateTerminated:
		return fmt.Sprintf("%s stopped", r.Stage)
	case StateSpawnError:
		return fmt.Sprintf("%s could not be started: %v", r.Stage, r.Err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", r.Stage)
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	} else {
		fmt.Fprintf(&b, " with exit code %d", r.ExitCode)
	}
	if len(r.StderrTail) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(r.StderrTail, " | "))
	}
	return b.String()
}

// Event is a tagged variant; Kind selects which fields are meaningful.
type Event struct {
	// Seq and Time are assigned by the Channel at emission.
	Seq  uint64
	Time time.Time

	Kind  Kind
	RunID string

	// StatusChanged
	Message  string
	Severity Severity

	// LogLine
	Stage  string
	Stream string
	Text   string

	// StageCompleted
	Result *StageResult

	// PipelineCompleted
	Success bool
	Outcome State

	// SessionEnded; nil when no process ever ran.
	ExitCode *int
}

// Status builds a StatusChanged event.
func Status(sev Severity, format string, args ...any) Event {
	return Event{
		Kind:     KindStatusChanged,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Log builds a LogLine event.
func Log(stage, stream, text string) Event {
	return Event{
		Kind:   KindLogLine,
		Stage:  stage,
		Stream: stream,
		Text:   text,
	}
}

// StageCompleted builds a StageCompleted event.
func StageCompleted(res StageResult) Event {
	return Event{
		Kind:   KindStageCompleted,
		Stage:  res.Stage,
		Result: &res,
	}
}

// PipelineCompleted builds a PipelineCompleted event.
func PipelineCompleted(outcome State) Event {
	return Event{
		Kind:    KindPipelineCompleted,
		Success: outcome == StateSucceeded,
		Outcome: outcome,
	}
}

// SessionEnded builds a SessionEnded event. A nil exitCode means the
// process never started.
func SessionEnded(exitCode *int) Event {
	return Event{
		Kind:     KindSessionEnded,
		ExitCode: exitCode,
	}
}

// WithRun tags the event with a run identifier.
func (e Event) WithRun(id string) Event {
	e.RunID = id
	return e
}

// String renders the event the way a plain log observer prints it.
func (e Event) String() string {
	switch e.Kind {
	case KindStatusChanged:
		if e.Severity == SeverityInfo {
			return "Status: " + e.Message
		}
		return fmt.Sprintf("Status: [%s] %s", strings.ToUpper(e.Severity.String()), e.Message)
	case KindLogLine:
		return fmt.Sprintf("[%s] %s", e.Stage, e.Text)
	case KindStageCompleted:
		if e.Result == nil {
			return fmt.Sprintf("[%s] completed", e.Stage)
		}
		return fmt.Sprintf("[%s] %s (%s)", e.Stage, e.Result.State, e.Result.Duration.Round(time.Millisecond))
	case KindPipelineCompleted:
		return fmt.Sprintf("Pipeline %s", e.Outcome)
	case KindSessionEnded:
		if e.ExitCode == nil {
			return "Session ended"
		}
		return fmt.Sprintf("Session ended (exit code %d)", *e.ExitCode)
	default:
		return e.Kind.String()
	}
}
