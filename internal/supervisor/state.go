// Package supervisor spawns the wavy executables and supervises each
// process until it exits or is terminated.
package supervisor

import "github.com/randomizedcoder/go-wavy-control/internal/events"

// State is the lifecycle state of one supervised process.
//
//	Starting → Running → {Succeeded | Failed | Terminated}
//	Starting → SpawnError
type State = events.State

const (
	StateStarting   = events.StateStarting
	StateRunning    = events.StateRunning
	StateSucceeded  = events.StateSucceeded
	StateFailed     = events.StateFailed
	StateTerminated = events.StateTerminated
	StateSpawnError = events.StateSpawnError
)

// Result describes a process that has terminated.
type Result = events.StageResult
