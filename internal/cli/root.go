package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nickigann03/ai-secretary/internal/app"
	"github.com/nickigann03/ai-secretary/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger
	// NewApp builds the service graph; replaced in tests.
	NewApp func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.App, error)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.NewApp == nil {
		deps.NewApp = app.New
	}
	rootCmd := &cobra.Command{
		Use:           "ai-secretary",
		Short:         "Turn meeting recordings into reviewed minutes",
		Long:          "Serves the meeting API, runs the transcription and minutes pipeline, and exports finalized minutes as Word documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewMigrateCmd(deps))
	rootCmd.AddCommand(NewProbeCmd(deps))
	rootCmd.AddCommand(NewExportCmd(deps))

	return rootCmd
}
