package events

import "context"

type runKey struct{}

// ContextWithRun attaches a run id that producers stamp on their events.
func ContextWithRun(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunFromContext returns the run id attached by ContextWithRun, or "".
func RunFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}
