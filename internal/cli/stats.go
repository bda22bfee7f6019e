package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/lucasnoah/mailgate/internal/analytics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize validation, gate and run outcomes from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		since := ""
		if window, _ := cmd.Flags().GetDuration("since"); window > 0 {
			since = time.Now().UTC().Add(-window).Format("2006-01-02 15:04:05")
		}
		top, _ := cmd.Flags().GetInt("top")

		report, err := analytics.BuildReport(d, since, top)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return printJSON(w, report)
		}
		printReport(w, report)
		return nil
	},
}

func printReport(w io.Writer, r analytics.Report) {
	f1 := func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) }

	o := r.Runs
	fmt.Fprintf(w, "Runs: %d started, %d completed (%s%%), %d failed, %d forced handoffs, %d retries\n\n",
		o.Started, o.Completed, f1(o.DonePct), o.Failed, o.Forced, o.Retries)

	if len(r.FirstPass) > 0 {
		rows := make([][]string, 0, len(r.FirstPass))
		for _, t := range r.FirstPass {
			rows = append(rows, []string{t.Transition, strconv.Itoa(t.Total), strconv.Itoa(t.FirstPass), f1(t.Pct) + "%", f1(t.AvgMs)})
		}
		fmt.Fprintln(w, renderTable([]string{"Transition", "First attempts", "Valid", "First pass", "Avg ms"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
	}

	if len(r.FailingFields) > 0 {
		rows := make([][]string, 0, len(r.FailingFields))
		for _, f := range r.FailingFields {
			rows = append(rows, []string{f.Field, f.Transition, strconv.Itoa(f.Occurrences), strconv.Itoa(f.Runs)})
		}
		fmt.Fprintln(w, renderTable([]string{"Failing field", "Transition", "Errors", "Runs"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
	}

	g := r.Gate
	if g.Evaluations > 0 {
		fmt.Fprintf(w, "Quality gate: %d evaluations, %s%% passed, overall avg %s p50 %s p95 %s\n",
			g.Evaluations, f1(g.PassPct), f1(g.AvgOverall), f1(g.P50), f1(g.P95))
		names := make([]string, 0, len(g.Dimensions))
		for n := range g.Dimensions {
			names = append(names, n)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, n := range names {
			rows = append(rows, []string{n, f1(g.Dimensions[n])})
		}
		fmt.Fprintln(w, renderTable([]string{"Dimension", "Avg score"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	if len(r.StageDurations) > 0 {
		rows := make([][]string, 0, len(r.StageDurations))
		for _, s := range r.StageDurations {
			rows = append(rows, []string{s.Stage, strconv.Itoa(s.Count), f1(s.Avg), f1(s.P50), f1(s.P95)})
		}
		fmt.Fprintln(w, renderTable([]string{"Stage", "Count", "Avg s", "P50 s", "P95 s"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
	}
}

func init() {
	statsCmd.Flags().Duration("since", 0, "Only include events newer than this window (e.g. 24h)")
	statsCmd.Flags().Int("top", 10, "Number of failing fields to show")
	statsCmd.Flags().String("format", "text", "Output format: text or json")
}
