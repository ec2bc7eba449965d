package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/migrations"
)

var migrateList bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)
		fsys := migrationsFS(cfg.MigrationsDir)

		if migrateList {
			pending, err := database.PendingMigrations(fsys)
			if err != nil {
				return err
			}
			for _, m := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%04d  %s\n", m.Version, m.Name)
			}
			return nil
		}

		pool, err := database.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("PostgreSQL connection failed: %w", err)
		}
		defer pool.Close()

		if err := database.RunMigrations(cmd.Context(), pool, fsys); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Println("✓ Database migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "print the migrations that would be applied, without connecting")
}

// migrationsFS prefers an on-disk migrations directory and falls back to the
// copy embedded in the binary.
func migrationsFS(dir string) fs.FS {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return os.DirFS(dir)
	}
	return migrations.FS
}
