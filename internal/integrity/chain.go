// Package integrity verifies that the handoff records of a run form one
// traceable, forward-only chain and that no record was altered after it was
// appended.
package integrity

import (
	"fmt"
	"time"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// ValidateChain checks, in order: a single trace_id, contiguous canonical
// stage order starting at the first stage, no cycles, and untampered content
// hashes. It stops at the first violation.
func ValidateChain(records []handoff.HandoffRecord) handoff.ValidationResult {
	start := time.Now()
	res := handoff.ValidationResult{
		Errors:                []handoff.ValidationError{},
		CorrectionSuggestions: []handoff.CorrectionSuggestion{},
	}
	if msg := firstViolation(records); msg != "" {
		e := handoff.ValidationError{
			Field:     handoff.ChainField,
			ErrorType: handoff.ErrorChainIntegrity,
			Severity:  handoff.SeverityCritical,
			Message:   msg,
		}
		res.Errors = append(res.Errors, e)
		res.CorrectionSuggestions = append(res.CorrectionSuggestions, handoff.CorrectionSuggestion{
			Field:           handoff.ChainField,
			Priority:        handoff.PriorityHigh,
			SuggestedAction: "Restart the run; the handoff chain cannot be repaired",
		})
	}
	res.IsValid = len(res.Errors) == 0
	res.ValidationDurationMs = float64(time.Since(start).Microseconds()) / 1000
	return res
}

// ValidateRunChain is ValidateChain anchored to the run's trace ID: the
// first record must carry traceID as well.
func ValidateRunChain(traceID string, records []handoff.HandoffRecord) handoff.ValidationResult {
	if len(records) > 0 && records[0].TraceID != traceID {
		anchored := make([]handoff.HandoffRecord, 0, len(records)+1)
		anchored = append(anchored, handoff.HandoffRecord{TraceID: traceID})
		anchored = append(anchored, records...)
		res := ValidateChain(anchored)
		if !res.IsValid {
			res.Errors[0].Message = fmt.Sprintf("record 0 has trace_id %q, run trace is %q", records[0].TraceID, traceID)
		}
		return res
	}
	return ValidateChain(records)
}

func firstViolation(records []handoff.HandoffRecord) string {
	if len(records) == 0 {
		return ""
	}

	trace := records[0].TraceID
	if trace == "" {
		return "record 0 has an empty trace_id"
	}
	for i, r := range records[1:] {
		if r.TraceID != trace {
			return fmt.Sprintf("record %d has trace_id %q, expected %q", i+1, r.TraceID, trace)
		}
	}

	if records[0].StageFrom != handoff.Stages[0] {
		return fmt.Sprintf("chain starts at %s, expected %s", records[0].StageFrom, handoff.Stages[0])
	}
	for i, r := range records {
		next, ok := r.StageFrom.Next()
		if !ok || r.StageTo != next {
			return fmt.Sprintf("record %d hands off %s -> %s, which is not a forward step", i, r.StageFrom, r.StageTo)
		}
		if i > 0 && records[i-1].StageTo != r.StageFrom {
			return fmt.Sprintf("gap between record %d (to %s) and record %d (from %s)", i-1, records[i-1].StageTo, i, r.StageFrom)
		}
	}

	for i, r := range records {
		for j := 0; j < i; j++ {
			if records[j].StageFrom == r.StageTo {
				return fmt.Sprintf("record %d returns to %s, already left by record %d", i, r.StageTo, j)
			}
		}
	}

	for i, r := range records {
		if r.ContentHash != "" && !VerifyRecord(r) {
			return fmt.Sprintf("record %d content hash mismatch", i)
		}
	}
	return ""
}
