package logging

import (
	"context"

	"go.uber.org/zap"
)

type runCtxKey struct{}

// Run identifies the pipeline run a context belongs to.
type Run struct {
	RunID   string
	TraceID string
}

// WithRun attaches run identity to ctx.
func WithRun(ctx context.Context, runID, traceID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, Run{RunID: runID, TraceID: traceID})
}

// RunFromContext returns the run attached by WithRun.
func RunFromContext(ctx context.Context) (Run, bool) {
	r, ok := ctx.Value(runCtxKey{}).(Run)
	return r, ok
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	r, ok := RunFromContext(ctx)
	if !ok {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if r.RunID != "" {
		fields = append(fields, zap.String("run.id", r.RunID))
	}
	if r.TraceID != "" {
		fields = append(fields, zap.String("trace.id", r.TraceID))
	}
	return fields
}
