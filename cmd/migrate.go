package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-social-crawler/migrations"
)

// openDB opens the migration connection. Tests replace it.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// runMigration applies one goose command. Tests replace it.
var runMigration = migrations.Run

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [" + strings.Join(migrations.Commands, "|") + "]",
		Short:     "Apply or inspect database migrations",
		Long:      `Runs a goose migration command against db.dsn. Defaults to "up".`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: migrations.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			if !slices.Contains(migrations.Commands, command) {
				return fmt.Errorf("unknown migrate command %q", command)
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to run migrations")
			}
			db, err := openDB(cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()
			if err := runMigration(db, command); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", command)
			return nil
		},
	}
}
