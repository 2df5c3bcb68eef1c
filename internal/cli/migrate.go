package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickigann03/ai-secretary/internal/storage"
)

func NewMigrateCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType := deps.Config.BasicConfig.DatabaseType
			db, err := storage.Open(dbType, deps.Config)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := storage.Migrate(db); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", dbType)
			return nil
		},
	}
}
