package main

import (
	"context"
	"fmt"
	"os"

	"github.com/romariotrain/media-jobs/internal/app"
	"github.com/romariotrain/media-jobs/internal/config"
	"github.com/romariotrain/media-jobs/internal/logging"
	"github.com/romariotrain/media-jobs/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("worker", cfg.Log.Level, cfg.Log.Format, os.Stdout)

	shutdown, err := tracing.Init("media-jobs-worker", cfg.OTelExporter, os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init")
	}
	defer func() { _ = shutdown(context.Background()) }()

	code := app.Run("worker", logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	os.Exit(code)
}
