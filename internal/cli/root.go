package cli

import (
	"github.com/spf13/cobra"

	"github.com/victornm/testlink/internal/config"
	"github.com/victornm/testlink/internal/server"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "testlink",
		Short:        "Multiple-choice tests delivered through single-use timed links",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config, defaults to $"+config.EnvPath)

	cmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newTakeCmd(),
		newAdminCmd(&configPath),
		newImportCmd(&configPath),
	)
	return cmd
}

func loadConfig(configPath string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(config.Path(configPath), &c); err != nil {
		return c, err
	}
	return c, nil
}
