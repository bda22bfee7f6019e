package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mailgate",
	Short: "mailgate — handoff validation and quality gates for email generation",
	Long: `mailgate validates the payloads that cross each boundary of the email
generation pipeline (DataCollection -> Content -> Design -> Quality -> Delivery),
scores rendered emails against weighted quality gates and drives runs with
bounded retry and a verifiable handoff chain.

Runs and records are stored under ~/.mailgate/ (JSON files or Postgres),
events in SQLite.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to mailgate config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exampleCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
