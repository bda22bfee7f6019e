package handoff

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrChainIntegrity    = errors.New("chain integrity violation")
	ErrRunTimeout        = errors.New("run timeout")
	ErrStageUnavailable  = errors.New("stage unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrRunTerminal       = errors.New("run is terminal")
	ErrNotFound          = errors.New("not found")
)

// Wrap builds an error message carrying stage and operation context, tagged
// with marker for errors.Is classification. A nil marker leaves the message
// untagged apart from err.
func Wrap(marker error, stage Stage, operation, message string, err error) error {
	detail := buildDetail(string(stage), operation, message)
	switch {
	case marker != nil && err != nil:
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	case marker != nil:
		return fmt.Errorf("%w: %s", marker, detail)
	case err != nil:
		return fmt.Errorf("%s: %w", detail, err)
	}
	return errors.New(detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{stage, operation, message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
