package cli

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/db"
	"github.com/lucasnoah/mailgate/internal/pgstore"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the event log and, if configured, Postgres",
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
		fmt.Fprintf(cmd.OutOrStdout(), "event log migrated: %s\n", d.Path())

		if cfg.Storage.Backend != "postgres" {
			return nil
		}
		ctx := cmd.Context()
		pg, err := pgstore.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "postgres run store migrated")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event log (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		path := cfg.Events.DBPath
		if path == "" {
			if path, err = db.DefaultDBPath(); err != nil {
				return err
			}
		}
		d, err := db.Open(path)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "event log reset: %s\n", d.Path())
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "Confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
