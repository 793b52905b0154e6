package outdir

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

func populate(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b", "c"), []byte("c"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// Clear
// =============================================================================

func TestClear_RemovesEverything(t *testing.T) {
	dir := t.TempDir()
	populate(t, dir)
	if err := os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	rec := events.NewRecorder()
	failures, err := Clear(dir, rec)
	if err != nil || failures != 0 {
		t.Fatalf("Clear() = %d, %v; want 0, nil", failures, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		t.Errorf("after Clear() dir has %d entries (err %v)", len(entries), err)
	}
	if len(rec.Events()) != 0 {
		t.Errorf("Clear() emitted %v", rec.Events())
	}
}

func TestClear_FailureIsLoggedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	populate(t, dir)

	failing := filepath.Join(dir, "b")
	remove := func(path string) error {
		if path == failing {
			return errors.New("device busy")
		}
		return os.RemoveAll(path)
	}

	rec := events.NewRecorder()
	failures, err := ClearWith(dir, rec, remove)
	if err != nil {
		t.Fatalf("ClearWith() error: %v", err)
	}
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}

	logs := rec.OfKind(events.KindLogLine)
	if len(logs) != 1 {
		t.Fatalf("got %d log events, want 1", len(logs))
	}
	if logs[0].Stage != CleanupStage || !strings.Contains(logs[0].Text, "device busy") {
		t.Errorf("log event = %+v", logs[0])
	}

	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Error("a should have been removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "b", "c")); err != nil {
		t.Error("b/c should survive the simulated failure")
	}
}

func TestClear_MissingDir(t *testing.T) {
	if _, err := Clear(filepath.Join(t.TempDir(), "gone"), nil); err == nil {
		t.Error("Clear() on a missing directory should fail")
	}
}

// =============================================================================
// Lock
// =============================================================================

func TestAcquire_Exclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v, want ErrLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	again.Release()
}

func TestLockPath_OutsideDirectory(t *testing.T) {
	dir := t.TempDir()
	path, err := LockPath(dir)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(path, dir+string(filepath.Separator)) {
		t.Errorf("lock file %s is inside the output directory", path)
	}

	other, _ := LockPath(t.TempDir())
	if other == path {
		t.Error("different directories share a lock file")
	}
}
