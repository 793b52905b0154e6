package main

import (
	"context"
	"fmt"
	"io"

	"github.com/randomizedcoder/go-wavy-control/internal/events"
)

// eventSource is the consumer side of events.Channel.
type eventSource interface {
	Events(ctx context.Context) <-chan events.Event
}

// printEvents is the plain observer: one line per event, process output
// as "[Stage] line", until src is closed and drained.
func printEvents(w io.Writer, src eventSource) {
	for ev := range src.Events(context.Background()) {
		if line, ok := formatEvent(ev); ok {
			fmt.Fprintln(w, line)
		}
	}
}

// formatEvent renders ev for the plain observer. Completion events are
// left to the exit summary.
func formatEvent(ev events.Event) (string, bool) {
	switch ev.Kind {
	case events.KindLogLine, events.KindStatusChanged:
		return ev.String(), true
	case events.KindStageCompleted:
		if ev.Result != nil && !ev.Result.Succeeded() {
			return ev.String(), true
		}
		return "", false
	default:
		return "", false
	}
}
