package cli

import (
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap("migrate")
		if err != nil {
			return err
		}

		gdb, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb); err != nil {
			return err
		}
		log.Info("database schema is up to date")
		return nil
	},
}
