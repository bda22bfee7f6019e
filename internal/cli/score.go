package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/mailgate/internal/config"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/quality"
	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score <dimensions.json>",
	Short: "Compute the weighted quality score from per-dimension results",
	Long: `Aggregate dimension results into an overall quality score and gate
decision. The input is either an array of dimension results
([{"dimension":"html","score":92}, ...]) or an object mapping dimension names
to scores ({"html":92,"spam":80}). Exits non-zero when the gate fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		profile := profileFlag(cmd, cfg)
		gc, err := cfg.GateConfigFor(profile)
		if err != nil {
			return err
		}
		gate, err := quality.NewGate(gc)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read dimensions: %w", err)
		}
		results, err := parseDimensions(data, cfg.Quality.DimensionThreshold)
		if err != nil {
			return err
		}

		return reportScore(cmd, profile, gate.ComputeScore(results))
	},
}

var gateCmd = &cobra.Command{
	Use:   "gate <quality-payload.json>",
	Short: "Run every dimension validator over a payload and apply the quality gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		p, err := handoff.ReadPayloadFile(args[0])
		if err != nil {
			return err
		}
		profile := profileFlag(cmd, cfg)
		eval, err := newEvaluator(cfg, profile)
		if err != nil {
			return err
		}
		return reportScore(cmd, profile, eval.Evaluate(cmd.Context(), p))
	},
}

func profileFlag(cmd *cobra.Command, cfg *config.Config) string {
	if p, _ := cmd.Flags().GetString("profile"); p != "" {
		return p
	}
	return cfg.Quality.Profile
}

// parseDimensions accepts an array of dimension results or a name->score
// object. Bare scores pass when they reach passScore.
func parseDimensions(data []byte, passScore float64) ([]handoff.DimensionScore, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var out []handoff.DimensionScore
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse dimension results: %w", err)
		}
		return out, nil
	}
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse dimension scores: %w", err)
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]handoff.DimensionScore, 0, len(names))
	for _, n := range names {
		out = append(out, handoff.DimensionScore{Dimension: n, Score: m[n], Passed: m[n] >= passScore})
	}
	return out, nil
}

func reportScore(cmd *cobra.Command, profile string, qs handoff.QualityScore) error {
	w := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if err := printJSON(w, qs); err != nil {
			return err
		}
	} else {
		printScore(w, profile, qs)
	}
	if !qs.GatePassed {
		return fmt.Errorf("quality gate failed at %d: %w", qs.Overall, errRejected)
	}
	return nil
}

func printScore(w io.Writer, profile string, qs handoff.QualityScore) {
	rows := make([][]string, 0, len(qs.Dimensions))
	for _, d := range qs.Dimensions {
		status := "pass"
		if !d.Passed {
			status = "fail"
		}
		if d.TimedOut {
			status = "timeout"
		}
		rows = append(rows, []string{d.Dimension, strconv.FormatFloat(d.Score, 'f', 1, 64), status, strconv.Itoa(len(d.Issues))})
	}
	fmt.Fprintln(w, renderTable([]string{"Dimension", "Score", "Status", "Issues"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight}))

	v := verdictOK
	if !qs.GatePassed {
		v = verdictFail
	}
	fmt.Fprintln(w, verdictLine(w, v, fmt.Sprintf("overall %d (profile %s)", qs.Overall, profile)))
	for _, c := range qs.CriticalIssues {
		fmt.Fprintln(w, verdictLine(w, verdictFail, c))
	}
	if len(qs.Recommendations) > 0 {
		fmt.Fprintln(w, "Recommendations:")
		for _, r := range qs.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{scoreCmd, gateCmd} {
		c.Flags().String("profile", "", "Weight profile (default from config)")
		c.Flags().String("format", "table", "Output format: table or json")
	}
}
