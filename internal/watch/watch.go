// Package watch reports segmenter progress by watching its output
// directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
)

// DefaultInterval is the minimum time between progress messages.
const DefaultInterval = time.Second

// Config configures a Watcher.
type Config struct {
	Dir      string
	Manifest string // e.g. index.m3u8
	Stage    string // prefix for status messages
	RunID    string

	Emitter  events.Emitter
	Logger   *slog.Logger
	Interval time.Duration

	// OnSegment is called for every new segment file.
	OnSegment func(name string)
}

// Watcher counts files the segmenter creates and emits rate-limited
// status events.
type Watcher struct {
	cfg     Config
	limiter *rate.Limiter
	ready   chan struct{}

	mu       sync.Mutex
	seen     map[string]struct{}
	manifest bool
	reported int
}

// New creates a watcher. Nothing is watched until Run.
func New(cfg Config) *Watcher {
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Stage == "" {
		cfg.Stage = "Segmenter"
	}
	return &Watcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		ready:   make(chan struct{}),
		seen:    make(map[string]struct{}),
	}
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Segments returns the number of segment files seen so far.
func (w *Watcher) Segments() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// ManifestSeen reports whether the manifest has been written.
func (w *Watcher) ManifestSeen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest
}

// Run watches until ctx is done. Before returning it emits a final count
// if the last one was suppressed by the rate limit, so no event from the
// watcher follows Run's return.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	close(w.ready)

	w.cfg.Logger.Debug("watching output directory", "dir", w.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			w.rescan()
			w.flush()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				w.flush()
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handle(filepath.Base(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				w.flush()
				return nil
			}
			w.cfg.Logger.Warn("file watcher error", "dir", w.cfg.Dir, "error", err)
		}
	}
}

func (w *Watcher) handle(name string) {
	if ignored(name) {
		return
	}

	w.mu.Lock()
	if name == w.cfg.Manifest {
		first := !w.manifest
		w.manifest = true
		w.mu.Unlock()
		if first {
			w.cfg.Emitter.Emit(events.Status(events.SeverityInfo, "%s: %s written", w.cfg.Stage, name).WithRun(w.cfg.RunID))
		}
		return
	}

	if _, dup := w.seen[name]; dup {
		w.mu.Unlock()
		return
	}
	w.seen[name] = struct{}{}
	count := len(w.seen)
	w.mu.Unlock()

	if w.cfg.OnSegment != nil {
		w.cfg.OnSegment(name)
	}
	if w.limiter.Allow() {
		w.report(count)
	}
}

// rescan picks up files whose notifications were still queued when the
// watcher was stopped.
func (w *Watcher) rescan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.cfg.Logger.Warn("output directory rescan failed", "dir", w.cfg.Dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.handle(e.Name())
		}
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	count := len(w.seen)
	pending := count != w.reported
	w.mu.Unlock()

	if pending {
		w.report(count)
	}
}

func (w *Watcher) report(count int) {
	w.mu.Lock()
	w.reported = count
	w.mu.Unlock()
	w.cfg.Emitter.Emit(events.Status(events.SeverityInfo, "%s: %d segments written", w.cfg.Stage, count).WithRun(w.cfg.RunID))
}

// ignored filters editor and temp files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, "~")
}
