package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/integrity"
	"github.com/spf13/cobra"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Verify handoff chain integrity",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify <run-id>",
	Short: "Verify the stored handoff records of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, cleanup, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		records, err := store.Records(ctx, run.RunID)
		if err != nil {
			return err
		}
		return reportChain(cmd.OutOrStdout(), records, integrity.ValidateRunChain(run.TraceID, records))
	},
}

var chainCheckCmd = &cobra.Command{
	Use:   "check <records.json>",
	Short: "Verify a JSON array of handoff records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}
		var records []handoff.HandoffRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("parse records: %w", err)
		}
		return reportChain(cmd.OutOrStdout(), records, integrity.ValidateChain(records))
	},
}

func reportChain(w io.Writer, records []handoff.HandoffRecord, res handoff.ValidationResult) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		hashOK := "ok"
		if r.ContentHash != "" && !integrity.VerifyRecord(r) {
			hashOK = "MISMATCH"
		}
		forced := ""
		if r.Forced {
			forced = "forced"
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Seq),
			fmt.Sprintf("%s -> %s", r.StageFrom, r.StageTo),
			truncate(r.TraceID, 13),
			hashOK,
			forced,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"Seq", "Transition", "Trace", "Hash", "Note"}, rows,
			[]columnAlignment{alignRight}))
	}

	if !res.IsValid {
		for _, e := range res.Errors {
			fmt.Fprintln(w, verdictLine(w, verdictFail, e.Message))
		}
		return fmt.Errorf("chain of %d record(s): %w", len(records), errRejected)
	}
	fmt.Fprintln(w, verdictLine(w, verdictOK, fmt.Sprintf("%d record(s), merkle root %s", len(records), integrity.RunRoot(records))))
	return nil
}

func init() {
	chainCmd.AddCommand(chainVerifyCmd)
	chainCmd.AddCommand(chainCheckCmd)
}
