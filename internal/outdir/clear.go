// Package outdir manages the segmenter's output directory: clearing stale
// contents and guarding it against concurrent runs.
package outdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// CleanupStage tags the log lines produced while clearing.
const CleanupStage = "Cleanup"

// Remover deletes one directory entry and everything beneath it.
type Remover func(path string) error

// Clear removes every entry directly under dir. A failure to remove one
// entry is reported as a LogLine event and does not stop the others.
// It returns the number of entries that could not be removed.
func Clear(dir string, emitter events.Emitter) (int, error) {
	return ClearWith(dir, emitter, os.RemoveAll)
}

// ClearWith is Clear with a custom remover.
func ClearWith(dir string, emitter events.Emitter, remove Remover) (int, error) {
	if emitter == nil {
		emitter = events.Discard
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}

	failures := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := remove(path); err != nil {
			failures++
			emitter.Emit(events.Log(CleanupStage, "stderr",
				fmt.Sprintf("Failed to delete %s. Reason: %v", path, err)))
		}
	}
	return failures, nil
}
