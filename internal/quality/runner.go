package quality

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

type indexedScore struct {
	idx   int
	score handoff.DimensionScore
}

// Runner evaluates dimension validators in parallel against one snapshot.
type Runner struct {
	validators []Validator
	timeout    time.Duration
}

// NewRunner returns a Runner joining at timeout. A zero timeout waits for
// ctx only.
func NewRunner(timeout time.Duration, validators ...Validator) *Runner {
	return &Runner{validators: validators, timeout: timeout}
}

// Run evaluates every validator. The result has one entry per validator in
// registration order; a validator that has not reported when the join times
// out, or that panics, scores 0 and fails. Validators should watch ctx; a
// partial score returned on cancellation counts as a timeout.
func (r *Runner) Run(ctx context.Context, p handoff.Payload) []handoff.DimensionScore {
	snapshot := p.Clone()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// A score reported after the join deadline is discarded; the first late
	// validator cancels gctx for any still running.
	ch := make(chan indexedScore, len(r.validators))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range r.validators {
		g.Go(func() error {
			s := evaluate(gctx, v, snapshot)
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%s: %w", v.Dimension(), err)
			}
			ch <- indexedScore{idx: i, score: s}
			return nil
		})
	}
	all := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(all)
	}()

	results := make([]handoff.DimensionScore, len(r.validators))
	got := make([]bool, len(r.validators))
	received := 0
collect:
	for received < len(r.validators) {
		select {
		case s := <-ch:
			results[s.idx] = s.score
			got[s.idx] = true
			received++
		case <-all:
			// Drain anything buffered after the last send.
			for len(ch) > 0 {
				s := <-ch
				results[s.idx] = s.score
				got[s.idx] = true
				received++
			}
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	for i, v := range r.validators {
		if !got[i] {
			results[i] = handoff.DimensionScore{
				Dimension: v.Dimension(),
				Score:     0,
				Passed:    false,
				TimedOut:  true,
				Issues:    []string{"validator did not finish before the deadline"},
			}
		}
	}
	return results
}

func evaluate(ctx context.Context, v Validator, p handoff.Payload) (s handoff.DimensionScore) {
	defer func() {
		if rec := recover(); rec != nil {
			s = handoff.DimensionScore{
				Dimension: v.Dimension(),
				Issues:    []string{fmt.Sprintf("validator panicked: %v", rec)},
			}
		}
	}()
	s = v.Evaluate(ctx, p)
	if s.Dimension == "" {
		s.Dimension = v.Dimension()
	}
	return s
}

// Evaluator runs the dimension validators and applies the gate.
type Evaluator struct {
	runner *Runner
	gate   *Gate
}

// NewEvaluator pairs a runner and a gate.
func NewEvaluator(runner *Runner, gate *Gate) *Evaluator {
	return &Evaluator{runner: runner, gate: gate}
}

// Gate returns the evaluator's gate.
func (e *Evaluator) Gate() *Gate { return e.gate }

// Evaluate scores p.
func (e *Evaluator) Evaluate(ctx context.Context, p handoff.Payload) handoff.QualityScore {
	return e.gate.ComputeScore(e.runner.Run(ctx, p))
}
