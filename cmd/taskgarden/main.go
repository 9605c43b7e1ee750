// Command taskgarden runs the task-garden client sync layer and its local view API.
package main

import (
	"fmt"
	"os"

	"github.com/bissquit/task-garden/internal/config"
	"github.com/bissquit/task-garden/internal/version"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskgarden",
		Short:         "Task Garden - task assignment client",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config (default $"+config.ConfigPathEnv+")")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
