package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chatrelay-backend/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "chatrelay",
	Short:         "Streaming chat relay backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
	// Running the binary bare starts the server.
	rootCmd.RunE = serveCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("✗ %v", err)
	}
}

// setupLogging installs the default slog logger: JSON in production, text
// everywhere else.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
