package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/spf13/cobra"
)

// errRejected is returned when a payload, score or chain fails its check.
// The details have already been printed.
var errRejected = errors.New("rejected")

var validateCmd = &cobra.Command{
	Use:   "validate <transition> <payload.json>",
	Short: "Validate a handoff payload against its transition schema",
	Long: `Validate a handoff payload. The transition is either the canonical form
("Content->Design") or a short alias (data-content, content-design,
design-quality, quality-delivery). Exits non-zero when the payload is invalid.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		t, err := handoff.ParseTransition(args[0])
		if err != nil {
			return err
		}
		p, err := handoff.ReadPayloadFile(args[1])
		if err != nil {
			return err
		}

		if noBlock, _ := cmd.Flags().GetBool("no-warnings-block"); noBlock {
			cfg.Validation.WarningsInvalidate = false
		}
		v := newValidator(cfg)
		result := v.Validate(p, t)

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if err := printJSON(w, result); err != nil {
				return err
			}
		} else {
			printValidation(w, t, result, v.Slow(result))
		}
		if !result.IsValid {
			return fmt.Errorf("%s: %d error(s): %w", t, len(result.Errors), errRejected)
		}
		return nil
	},
}

func printValidation(w io.Writer, t handoff.TransitionType, r handoff.ValidationResult, slow bool) {
	if r.IsValid {
		fmt.Fprintln(w, verdictLine(w, verdictOK, fmt.Sprintf("%s (%.2fms)", t, r.ValidationDurationMs)))
	} else {
		fmt.Fprintln(w, verdictLine(w, verdictFail, fmt.Sprintf("%s: %d error(s) (%.2fms)", t, len(r.Errors), r.ValidationDurationMs)))
	}
	if slow {
		fmt.Fprintln(w, verdictLine(w, verdictWarn, "validation exceeded its time budget"))
	}

	if len(r.Errors) > 0 {
		rows := make([][]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			rows = append(rows, []string{e.Field, string(e.ErrorType), string(e.Severity), truncate(e.Message, 70)})
		}
		fmt.Fprintln(w, renderTable([]string{"Field", "Type", "Severity", "Message"}, rows, nil))
	}
	for _, e := range r.Warnings {
		fmt.Fprintln(w, verdictLine(w, verdictWarn, fmt.Sprintf("%s: %s", e.Field, e.Message)))
	}
	if len(r.CorrectionSuggestions) > 0 {
		fmt.Fprintln(w, "Suggestions:")
		for _, s := range r.CorrectionSuggestions {
			fmt.Fprintf(w, "  - [%s] %s\n", s.Priority, s.SuggestedAction)
		}
	}
}

var correctCmd = &cobra.Command{
	Use:   "correct <transition> <payload.json>",
	Short: "Run one LLM correction pass over an invalid payload",
	Long: `Validate a payload and, if it is invalid, ask the configured LLM to fix
each failing field once. The corrected payload is printed as JSON and then
re-validated. Requires llm.api_key (or MAILGATE_LLM_API_KEY).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		t, err := handoff.ParseTransition(args[0])
		if err != nil {
			return err
		}
		p, err := handoff.ReadPayloadFile(args[1])
		if err != nil {
			return err
		}

		v := newValidator(cfg)
		before := v.Validate(p, t)
		w := cmd.OutOrStdout()
		if before.IsValid {
			fmt.Fprintln(w, verdictLine(w, verdictOK, fmt.Sprintf("%s: payload is already valid", t)))
			return nil
		}

		c, err := newCorrector(cfg)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("correction needs an LLM: set llm.api_key or MAILGATE_LLM_API_KEY")
		}
		res, err := c.Correct(cmd.Context(), p, before.Errors)
		if err != nil {
			return fmt.Errorf("correct: %w", err)
		}
		after := v.Validate(res.Payload, t)

		errOut := cmd.ErrOrStderr()
		for _, a := range res.Attempts {
			vd := verdictFail
			if a.Applied {
				vd = verdictOK
			}
			fmt.Fprintln(errOut, verdictLine(errOut, vd, strings.TrimSpace(a.Field+" "+a.Detail)))
		}
		if err := printJSON(w, res.Payload); err != nil {
			return err
		}
		if !after.IsValid {
			fmt.Fprintln(errOut, verdictLine(errOut, verdictFail, fmt.Sprintf("%d error(s) remain after correction", len(after.Errors))))
			return fmt.Errorf("%s: %w", t, errRejected)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("format", "table", "Output format: table or json")
	validateCmd.Flags().Bool("no-warnings-block", false, "Report warning-severity findings without invalidating the payload")
}
