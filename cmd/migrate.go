package cmd

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"

	"github.com/vibast-solutions/ms-go-greeting/migrations"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.UpContext(ctx, db, ".")
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.DownContext(ctx, db, ".")
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			return goose.StatusContext(ctx, db, ".")
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrations(ctx context.Context, run func(ctx context.Context, db *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openMigrationDB()
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err = goose.SetDialect("mysql"); err != nil {
		return err
	}

	return run(ctx, db)
}

// openMigrationDB only needs MYSQL_DSN, so migrations can run before the
// rest of the service configuration exists.
func openMigrationDB() (*sql.DB, error) {
	_ = godotenv.Load()

	dsn := strings.TrimSpace(os.Getenv("MYSQL_DSN"))
	if dsn == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
