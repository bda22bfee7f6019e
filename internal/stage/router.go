package stage

import (
	"context"
	"fmt"

	"github.com/lucasnoah/mailgate/internal/fixtures"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// Router dispatches each stage to its own collaborator, falling back to a
// default for stages without one.
type Router struct {
	routes   map[handoff.Stage]orchestrator.Collaborator
	fallback orchestrator.Collaborator
}

// NewRouter returns a router with the given fallback. A nil fallback makes
// unrouted stages fail.
func NewRouter(fallback orchestrator.Collaborator) *Router {
	return &Router{routes: make(map[handoff.Stage]orchestrator.Collaborator), fallback: fallback}
}

// Route assigns c to stage s.
func (r *Router) Route(s handoff.Stage, c orchestrator.Collaborator) *Router {
	r.routes[s] = c
	return r
}

func (r *Router) Produce(ctx context.Context, req orchestrator.StageRequest) (handoff.Payload, error) {
	if c, ok := r.routes[req.Stage]; ok {
		return c.Produce(ctx, req)
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no collaborator for stage %s", req.Stage)
	}
	return r.fallback.Produce(ctx, req)
}

// Fixtures produces the built-in valid payload for every stage, stamped
// with the run's trace ID.
type Fixtures struct{}

func (Fixtures) Produce(ctx context.Context, req orchestrator.StageRequest) (handoff.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fixtures.ForStage(req.Stage, req.TraceID), nil
}
