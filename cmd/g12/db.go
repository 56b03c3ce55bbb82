package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/great12/internal/config"
	"github.com/zulandar/great12/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Great12 database",
		Long:  "Creates the database if needed and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Great12 config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s (driver %s)\n", configPath, cfg.Database.Driver)

	if err := db.CreateDatabase(cfg.Database); err != nil {
		return err
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "sqlite" {
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Path)
	} else {
		fmt.Fprintf(out, "Database %s ready on %s:%d\n", cfg.Database.Name, cfg.Database.Host, cfg.Database.Port)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nGreat12 database initialized successfully.")
	return nil
}
