package validator

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Suggest derives a prioritized correction hint from e.
func Suggest(e handoff.ValidationError) handoff.CorrectionSuggestion {
	return handoff.CorrectionSuggestion{
		Field:           e.Field,
		Priority:        priorityFor(e),
		SuggestedAction: actionFor(e),
	}
}

func priorityFor(e handoff.ValidationError) handoff.Priority {
	switch {
	case e.Severity == handoff.SeverityCritical:
		return handoff.PriorityHigh
	case e.ErrorType == handoff.ErrorFormat, e.ErrorType == handoff.ErrorSizeLimit:
		return handoff.PriorityMedium
	}
	return handoff.PriorityLow
}

func actionFor(e handoff.ValidationError) string {
	switch e.ErrorType {
	case handoff.ErrorSchema:
		return fmt.Sprintf("Provide %s with the expected type (%s)", e.Field, e.Message)
	case handoff.ErrorSizeLimit:
		return fmt.Sprintf("Bring %s within its allowed bounds (%s)", e.Field, e.Message)
	case handoff.ErrorFormat:
		return fmt.Sprintf("Rewrite %s in the required format (%s)", e.Field, e.Message)
	case handoff.ErrorInvalidValue:
		return fmt.Sprintf("Revise %s to meet the business rule (%s)", e.Field, e.Message)
	case handoff.ErrorChainIntegrity:
		return "Restart the run; the handoff chain cannot be repaired"
	}
	return fmt.Sprintf("Resubmit a complete payload (%s)", e.Message)
}
