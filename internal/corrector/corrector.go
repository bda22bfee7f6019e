// Package corrector runs a single best-effort repair pass over an invalid
// payload by delegating field fixes to an external collaborator.
package corrector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Fixer proposes a replacement value for one field. ok=false or a non-nil
// error both mean no fix is available.
type Fixer interface {
	FixField(ctx context.Context, field, message string, current any) (value any, ok bool, err error)
}

// FixerFunc adapts a function to Fixer.
type FixerFunc func(ctx context.Context, field, message string, current any) (any, bool, error)

func (f FixerFunc) FixField(ctx context.Context, field, message string, current any) (any, bool, error) {
	return f(ctx, field, message, current)
}

// Attempt records what happened to one field during a pass.
type Attempt struct {
	Field   string `json:"field"`
	Applied bool   `json:"applied"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the outcome of one pass. Payload is always a fresh copy; the
// input payload is never modified.
type Result struct {
	Payload  handoff.Payload `json:"payload"`
	Success  bool            `json:"success"`
	Attempts []Attempt       `json:"attempts"`
}

// Applied returns the number of fields that received a fix.
func (r Result) Applied() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Applied {
			n++
		}
	}
	return n
}

// Corrector applies fixes sequentially, in error order.
type Corrector struct {
	fixer       Fixer
	callTimeout time.Duration
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithCallTimeout bounds each FixField call.
func WithCallTimeout(d time.Duration) Option { return func(c *Corrector) { c.callTimeout = d } }

// New returns a Corrector over f. A nil fixer never fixes anything.
func New(f Fixer, opts ...Option) *Corrector {
	c := &Corrector{fixer: f, callTimeout: 30 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct attempts one fix per distinct error field. Success means every
// field received a replacement value. If ctx is cancelled mid-pass, partial
// progress is discarded and ctx's error is returned.
func (c *Corrector) Correct(ctx context.Context, p handoff.Payload, errs []handoff.ValidationError) (Result, error) {
	work := p.Clone()
	res := Result{Payload: work}
	if c.fixer == nil || len(errs) == 0 {
		res.Payload = p.Clone()
		return res, nil
	}

	order, messages := groupByField(errs)
	fixed := 0
	for _, field := range order {
		if err := ctx.Err(); err != nil {
			return Result{Payload: p.Clone()}, err
		}
		if !correctable(field) {
			res.Attempts = append(res.Attempts, Attempt{Field: field, Detail: "not correctable"})
			continue
		}
		current, _ := work.Lookup(field)
		value, ok, err := c.call(ctx, field, strings.Join(messages[field], "; "), current)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{Payload: p.Clone()}, ctxErr
			}
			res.Attempts = append(res.Attempts, Attempt{Field: field, Detail: err.Error()})
			continue
		case !ok:
			res.Attempts = append(res.Attempts, Attempt{Field: field, Detail: "no fix available"})
			continue
		}
		if err := work.Set(field, value); err != nil {
			res.Attempts = append(res.Attempts, Attempt{Field: field, Detail: err.Error()})
			continue
		}
		fixed++
		res.Attempts = append(res.Attempts, Attempt{Field: field, Applied: true})
	}
	res.Success = fixed == len(order)
	return res, nil
}

func (c *Corrector) call(ctx context.Context, field, message string, current any) (value any, ok bool, err error) {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			value, ok, err = nil, false, fmt.Errorf("fixer panic: %v", r)
		}
	}()
	value, ok, err = c.fixer.FixField(callCtx, field, message, current)
	if err == nil && callCtx.Err() != nil {
		err = fmt.Errorf("fix %s: %w", field, callCtx.Err())
	}
	return value, ok, err
}

func groupByField(errs []handoff.ValidationError) ([]string, map[string][]string) {
	var order []string
	messages := map[string][]string{}
	for _, e := range errs {
		if _, seen := messages[e.Field]; !seen {
			order = append(order, e.Field)
		}
		messages[e.Field] = append(messages[e.Field], e.Message)
	}
	return order, messages
}

func correctable(field string) bool {
	switch field {
	case "", handoff.ChainField, "payload", "transition":
		return false
	}
	return true
}
