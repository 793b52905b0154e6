// Package process describes invocations of the external wavy executables.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrNotExecutable is wrapped when the file exists but cannot be run.
	ErrNotExecutable = errors.New("not executable")

	// ErrIsDirectory is wrapped when the path names a directory.
	ErrIsDirectory = errors.New("is a directory")
)

// ExecutableError reports why a path cannot be used as an executable.
type ExecutableError struct {
	Path string
	Err  error
}

func (e *ExecutableError) Error() string {
	return fmt.Sprintf("executable %s: %v", e.Path, e.Err)
}

func (e *ExecutableError) Unwrap() error {
	return e.Err
}

// CheckExecutable verifies that path names an existing, executable,
// non-directory file.
func CheckExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ExecutableError{Path: path, Err: err}
	}
	if info.IsDir() {
		return &ExecutableError{Path: path, Err: ErrIsDirectory}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &ExecutableError{Path: path, Err: ErrNotExecutable}
	}
	return nil
}

// Command is an immutable description of one external invocation.
// The zero value is not runnable; use NewCommand.
type Command struct {
	path string
	args []string
	dir  string
}

// NewCommand builds a Command. It fails if path is not an executable file.
// dir may be empty to inherit the caller's working directory.
func NewCommand(path string, args []string, dir string) (Command, error) {
	if err := CheckExecutable(path); err != nil {
		return Command{}, err
	}

	owned := make([]string, len(args))
	copy(owned, args)

	return Command{
		path: path,
		args: owned,
		dir:  dir,
	}, nil
}

// Path returns the executable path.
func (c Command) Path() string {
	return c.path
}

// Args returns a copy of the arguments (without argv[0]).
func (c Command) Args() []string {
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

// Argv returns the full argument vector, executable first.
func (c Command) Argv() []string {
	return append([]string{c.path}, c.args...)
}

// Dir returns the working directory, or "" for the caller's.
func (c Command) Dir() string {
	return c.dir
}

// IsZero reports whether the command was never built.
func (c Command) IsZero() bool {
	return c.path == ""
}

// Cmd returns a fresh, unstarted exec.Cmd for this command.
// Lifetime is managed by the caller; no context is attached.
func (c Command) Cmd() *exec.Cmd {
	cmd := exec.Command(c.path, c.args...)
	cmd.Dir = c.dir
	return cmd
}

// String returns the command that would be executed (for debugging).
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.path
	}
	return c.path + " " + strings.Join(c.args, " ")
}
