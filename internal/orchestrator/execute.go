package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// StageRequest is what a stage collaborator receives for one attempt.
type StageRequest struct {
	RunID     string          `json:"run_id"`
	TraceID   string          `json:"trace_id"`
	Stage     handoff.Stage   `json:"stage"`
	Iteration int             `json:"iteration"`
	Input     handoff.Payload `json:"input,omitempty"`
	Feedback  []string        `json:"feedback,omitempty"`
}

// Collaborator produces a stage's handoff payload. It is an external,
// non-deterministic black box.
type Collaborator interface {
	Produce(ctx context.Context, req StageRequest) (handoff.Payload, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, req StageRequest) (handoff.Payload, error)

func (f CollaboratorFunc) Produce(ctx context.Context, req StageRequest) (handoff.Payload, error) {
	return f(ctx, req)
}

// Execute drives the run until it completes or fails. A collaborator error
// consumes the retry budget like a rejected handoff; once the budget is
// spent the run fails.
func (o *Orchestrator) Execute(ctx context.Context, c Collaborator) (handoff.PipelineRun, error) {
	for {
		o.mu.Lock()
		if o.run.Status.Terminal() {
			run := o.snapshot()
			o.mu.Unlock()
			return run, nil
		}
		req := StageRequest{
			RunID:     o.run.RunID,
			TraceID:   o.run.TraceID,
			Stage:     o.run.CurrentStage,
			Iteration: o.run.IterationCount,
			Input:     o.lastInput.Clone(),
			Feedback:  append([]string(nil), o.run.Feedback...),
		}
		o.emit(ctx, req.Stage, EventStageStarted, map[string]any{"iteration": req.Iteration})
		runCtx, cancel := o.runContext(ctx)
		o.mu.Unlock()

		payload, err := c.Produce(runCtx, req)
		ctxErr := runCtx.Err()
		cancel()
		if err != nil {
			if stop, ferr := o.stageError(ctx, req.Stage, err, ctxErr); stop || ferr != nil {
				return o.Run(), ferr
			}
			continue
		}

		if _, err := o.SubmitHandoff(ctx, req.Stage, payload); err != nil {
			return o.Run(), err
		}
	}
}

// stageError handles a collaborator failure. It reports whether Execute
// should stop.
func (o *Orchestrator) stageError(ctx context.Context, stage handoff.Stage, err, ctxErr error) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctxErr != nil {
		marker := handoff.ErrRunTimeout
		if errors.Is(ctxErr, context.Canceled) {
			marker = nil
		}
		ferr := o.fail(ctx, fmt.Sprintf("stage %s: %v", stage, ctxErr), marker)
		return true, errors.Join(ferr, handoff.Wrap(marker, stage, "produce", "", err))
	}

	o.emit(ctx, stage, EventStageError, map[string]any{"error": err.Error(), "iteration": o.run.IterationCount})
	if o.run.IterationCount < o.run.MaxRetries {
		o.run.IterationCount++
		o.run.State = handoff.StateImproving
		o.run.Status = handoff.StatusImproving
		o.run.Feedback = []string{fmt.Sprintf("previous attempt failed: %v", err)}
		o.emit(ctx, stage, EventImproving, map[string]any{"iteration": o.run.IterationCount, "feedback": 1})
		return false, o.save(ctx)
	}
	reason := fmt.Sprintf("stage %s unavailable: %v", stage, err)
	ferr := o.fail(ctx, reason, handoff.ErrStageUnavailable)
	return true, errors.Join(ferr, err)
}
