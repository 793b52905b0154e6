package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/process"
	"github.com/randomizedcoder/go-wavy-control/internal/watch"
)

// Stage display names.
const (
	StageSegmenter  = "Segmenter"
	StageDispatcher = "Dispatcher"
)

// Binaries holds the resolved executables of a streaming run.
type Binaries struct {
	Segmenter  string
	Dispatcher string
}

// StreamSpec describes one streaming run.
type StreamSpec struct {
	Input     string
	OutputDir string
	Server    config.ServerURL

	// Manifest defaults to process.ManifestName.
	Manifest string

	RunID string

	// Progress, when non-nil, receives segment progress status events
	// from a watcher on OutputDir.
	Progress         events.Emitter
	ProgressInterval time.Duration
	Logger           *slog.Logger
	OnSegment        func(name string)
}

// Streaming builds the two-stage pipeline: the segmenter writes the
// manifest and segments into the output directory, and once the manifest
// exists the dispatcher serves them until it exits or is cancelled.
func Streaming(spec StreamSpec, bins Binaries) Pipeline {
	manifest := spec.Manifest
	if manifest == "" {
		manifest = process.ManifestName
	}

	segment := Stage{
		Name: StageSegmenter,
		Build: func([]events.StageResult) (process.Command, error) {
			return process.SegmenterCommand(bins.Segmenter, spec.Input, spec.OutputDir)
		},
		Verify: func(events.StageResult) error {
			return requireFile(StageSegmenter, spec.OutputDir, manifest)
		},
	}
	if spec.Progress != nil {
		segment.Monitor = watch.New(watch.Config{
			Dir:       spec.OutputDir,
			Manifest:  manifest,
			Stage:     StageSegmenter,
			RunID:     spec.RunID,
			Emitter:   spec.Progress,
			Logger:    spec.Logger,
			Interval:  spec.ProgressInterval,
			OnSegment: spec.OnSegment,
		})
	}

	dispatch := Stage{
		Name: StageDispatcher,
		Build: func([]events.StageResult) (process.Command, error) {
			return process.DispatcherCommand(bins.Dispatcher, spec.Server.Host, spec.Server.Port, spec.OutputDir, manifest)
		},
	}

	return Pipeline{
		Name:   "stream",
		Stages: []Stage{segment, dispatch},
	}
}

// requireFile fails with an *ArtifactError unless dir/name is a regular
// file.
func requireFile(stage, dir, name string) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return &ArtifactError{Stage: stage, Path: name}
	}
	return nil
}
