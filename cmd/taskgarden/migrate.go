package main

import (
	"errors"

	"github.com/bissquit/task-garden/internal/config"
	"github.com/bissquit/task-garden/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrations.Up(url); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrations.Down(url); err != nil {
				return err
			}
			cmd.Println("migrations rolled back")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, ok, err := migrations.Version(url)
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println("no migrations applied")
				return nil
			}
			cmd.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})

	return cmd
}

func databaseURL() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Backend.Driver != config.DriverPostgres {
		return "", errors.New("migrations need the postgres backend driver")
	}
	return cfg.Database.URL, nil
}
