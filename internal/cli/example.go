package cli

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/fixtures"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/stage"
	"github.com/spf13/cobra"
)

var exampleCmd = &cobra.Command{
	Use:   "example [transition]",
	Short: "Print a valid sample payload, or write one per stage with --write-dir",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		traceID, _ := cmd.Flags().GetString("trace-id")

		if dir, _ := cmd.Flags().GetString("write-dir"); dir != "" {
			written, err := stage.WriteFixtures(dir, traceID, fixtures.ForStage)
			for _, p := range written {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		}

		if len(args) == 0 {
			return fmt.Errorf("name a transition or pass --write-dir")
		}
		t, err := handoff.ParseTransition(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fixtures.Valid(t, traceID))
	},
}

func init() {
	exampleCmd.Flags().String("trace-id", fixtures.TraceID, "trace_id to stamp into the payload")
	exampleCmd.Flags().String("write-dir", "", "Write <Stage>.json for every producing stage into this directory")
}
