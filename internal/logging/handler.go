package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// MaxLineLength is the maximum length of a single output line before
	// truncation.
	MaxLineLength = 4096

	// DefaultTailLines is how many stderr lines are kept for failure reports.
	DefaultTailLines = 20
)

// OutputHandler receives the output lines of one stage's process.
// It keeps the most recent lines for the exit report and logs every line
// at a level guessed from its content.
type OutputHandler struct {
	stage  string
	logger *slog.Logger

	mu     sync.Mutex
	stderr ring
	all    ring
}

// NewOutputHandler creates a handler keeping the last tail lines.
func NewOutputHandler(stage string, logger *slog.Logger, tail int) *OutputHandler {
	if tail <= 0 {
		tail = DefaultTailLines
	}
	if logger == nil {
		logger = Discard()
	}
	return &OutputHandler{
		stage:  stage,
		logger: logger,
		stderr: newRing(tail),
		all:    newRing(tail),
	}
}

// HandleLine records and logs one line. It returns the line as it should
// be forwarded, truncated if overlong.
func (h *OutputHandler) HandleLine(stream, line string) string {
	if len(line) > MaxLineLength {
		line = truncateLine(line)
	}

	h.mu.Lock()
	h.all.push(line)
	if stream == "stderr" {
		h.stderr.push(line)
	}
	h.mu.Unlock()

	h.logger.Log(context.Background(), classifyLine(line), "process_output",
		"stage", h.stage,
		"stream", stream,
		"line", line,
	)
	return line
}

// truncateLine cuts line to at most MaxLineLength bytes on a rune
// boundary and marks it truncated.
func truncateLine(line string) string {
	cut := MaxLineLength
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "...(truncated)"
}

// classifyLine picks a log level from the line content. Routine output
// is debug so it only shows with -v.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "permission denied") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "warning") ||
		strings.Contains(lower, "retry") ||
		strings.Contains(lower, "reconnect") {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

// Tail returns the retained stderr lines, oldest first.
func (h *OutputHandler) Tail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stderr.lines()
}

// Recent returns the retained lines of both streams, oldest first.
func (h *OutputHandler) Recent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.all.lines()
}

// ring is a fixed-size circular buffer of lines.
type ring struct {
	buf  []string
	next int
	full bool
}

func newRing(n int) ring {
	return ring{buf: make([]string, n)}
}

func (r *ring) push(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) lines() []string {
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
