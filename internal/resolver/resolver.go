// Package resolver locates the project root and the wavy executables
// built beneath it.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Executable names under the build directory.
const (
	Segmenter  = "hls_segmenter"
	Dispatcher = "hls_dispatcher"
	Client     = "hls_client"
)

// DefaultBuildDir is relative to the project root.
const DefaultBuildDir = "build"

// DefaultMarkers are tried in order. A marker is searched over the whole
// ancestor chain before the next one is considered.
var DefaultMarkers = []string{".wavy_root", ".git"}

var (
	ErrProjectRootNotFound = errors.New("project root not found")
	ErrBinaryNotFound      = errors.New("binary not found")
)

// RootNotFoundError is returned when no ancestor of Base carries a marker.
type RootNotFoundError struct {
	Base    string
	Markers []string
}

func (e *RootNotFoundError) Error() string {
	return fmt.Sprintf("no project root above %s (looked for %v)", e.Base, e.Markers)
}

func (e *RootNotFoundError) Unwrap() error { return ErrProjectRootNotFound }

// BinaryNotFoundError names the path that was expected to hold an executable.
type BinaryNotFoundError struct {
	Name string
	Path string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("%s not found at %s", e.Name, e.Path)
}

func (e *BinaryNotFoundError) Unwrap() error { return ErrBinaryNotFound }

// Options configures a Resolver. Zero values select the defaults.
type Options struct {
	// Root skips discovery when set.
	Root string

	// Base is where the upward search starts. Defaults to the directory
	// of the running executable, not the working directory.
	Base string

	Markers  []string
	BuildDir string
}

// Resolver maps executable names to absolute paths.
type Resolver struct {
	opts Options
}

// New creates a resolver. Discovery is lazy; nothing touches the
// filesystem until Root or Resolve is called.
func New(opts Options) *Resolver {
	if len(opts.Markers) == 0 {
		opts.Markers = DefaultMarkers
	}
	if opts.BuildDir == "" {
		opts.BuildDir = DefaultBuildDir
	}
	return &Resolver{opts: opts}
}

// Root returns the project root.
func (r *Resolver) Root() (string, error) {
	if r.opts.Root != "" {
		return filepath.Abs(r.opts.Root)
	}

	base := r.opts.Base
	if base == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate running executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		base = filepath.Dir(exe)
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	for _, marker := range r.opts.Markers {
		if root, ok := findUp(base, marker); ok {
			return root, nil
		}
	}
	return "", &RootNotFoundError{Base: base, Markers: r.opts.Markers}
}

// findUp walks from dir toward the filesystem root looking for marker.
func findUp(dir, marker string) (string, bool) {
	for {
		if _, err := os.Lstat(filepath.Join(dir, marker)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Resolve returns <root>/<build dir>/<name>, failing if it does not exist.
func (r *Resolver) Resolve(name string) (string, error) {
	root, err := r.Root()
	if err != nil {
		return "", err
	}

	path := filepath.Join(root, r.opts.BuildDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &BinaryNotFoundError{Name: name, Path: path}
	}
	return path, nil
}

// ResolveAll resolves every name, stopping at the first one missing.
func (r *Resolver) ResolveAll(names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		path, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = path
	}
	return out, nil
}
