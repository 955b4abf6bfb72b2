package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/romariotrain/media-jobs/internal/app"
	"github.com/romariotrain/media-jobs/internal/config"
	"github.com/romariotrain/media-jobs/internal/logging"
)

// Opened in the root pre-run hook.
var (
	deps   *app.Deps
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "jobctl",
	Short:         "Admin tool for the media job core",
	Long:          "Enqueue transcodes, drive view campaigns, manage offline download grants and inspect the job queue.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger = logging.New("jobctl", cfg.Log.Level, "console", os.Stderr)

		deps, err = app.Open(cmd.Context(), cfg, logger)
		return err
	},
}

func init() {
	rootCmd.AddCommand(transcodeCmd(), campaignCmd(), grantCmd(), queueCmd())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if deps != nil {
		deps.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
