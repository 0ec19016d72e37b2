package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/timecapsule/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the generation tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := repository.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s database.\n", cfg.Database.Driver)
		return nil
	},
}
