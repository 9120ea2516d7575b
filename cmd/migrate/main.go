package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"workflow-suite/core/internal/config"
)

var (
	envFile       string
	dbURL         string
	migrationsDir string
)

var rootCmd = &cobra.Command{
	Use:          "workflow-migrate",
	Short:        "Manage the workflow database schema",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate()
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		fmt.Println("Migrations applied successfully")
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (all of them when steps is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate()
		if err != nil {
			return err
		}
		defer m.Close()
		if len(args) == 1 {
			steps, err := strconv.Atoi(args[0])
			if err != nil || steps <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		fmt.Println("Migrations rolled back successfully")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate()
		if err != nil {
			return err
		}
		defer m.Close()
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Version %d (dirty: %t)\n", v, dirty)
		return nil
	},
}

func newMigrate() (*migrate.Migrate, error) {
	connStr := dbURL
	if connStr == "" {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		connStr = cfg.DatabaseURL()
	}
	m, err := migrate.New("file://"+migrationsDir, connStr)
	if err != nil {
		return nil, fmt.Errorf("initialize migrations: %w", err)
	}
	return m, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database connection string (defaults to the db section of the config)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "path", "migrations", "Directory holding migration files")
	rootCmd.AddCommand(upCmd, downCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
