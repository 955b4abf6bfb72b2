package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/app"
	"github.com/romariotrain/media-jobs/internal/campaign"
	"github.com/romariotrain/media-jobs/internal/config"
	"github.com/romariotrain/media-jobs/internal/jobs/httpapi"
	"github.com/romariotrain/media-jobs/internal/jobs/kafka"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/outbox"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
	"github.com/romariotrain/media-jobs/internal/transcode"
)

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.Blobs == nil {
		return errors.New("S3_ENDPOINT is required for the worker")
	}

	pipeline := transcode.NewPipeline(deps.Blobs, deps.Videos, deps.Videos, &transcode.FFmpeg{
		FFmpegPath:  cfg.Transcode.FFmpegPath,
		FFprobePath: cfg.Transcode.FFprobePath,
	}, transcode.Config{
		WorkDir:       cfg.Transcode.WorkDir,
		Bucket:        cfg.S3.Bucket,
		PublicBaseURL: cfg.S3.PublicBaseURL,
		Logger:        logger,
	})
	engine := campaign.NewEngine(deps.Campaigns, deps.Signals, campaign.EngineConfig{
		BatchSize:  cfg.Campaign.BatchSize,
		BatchDelay: cfg.Campaign.BatchDelay,
		Logger:     logger,
	})

	if err := deps.Queue.Register(models.TranscodeJob, cfg.Transcode.Concurrency, pipeline.Handle); err != nil {
		return fmt.Errorf("register transcode: %w", err)
	}
	if err := deps.Queue.Register(models.CampaignJob, cfg.Campaign.Concurrency, engine.Handle); err != nil {
		return fmt.Errorf("register campaign: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 6)
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("job queue", deps.Queue.Run)

	pruner := queue.NewPruner(deps.Jobs, queue.PrunerConfig{
		Schedule:           cfg.Retention.Schedule,
		CompletedRetention: cfg.Retention.Completed,
		FailedRetention:    cfg.Retention.Failed,
		Logger:             logger,
	})
	spawn("pruner", pruner.Run)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()

		publisher, err := outbox.NewPublisher(outbox.PublisherConfig{
			Store:     deps.Outbox,
			Producer:  producer,
			Interval:  cfg.Kafka.OutboxInterval,
			BatchSize: cfg.Kafka.OutboxBatch,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("outbox publisher: %w", err)
		}
		spawn("outbox publisher", publisher.Start)
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, job events stay in the outbox")
	}

	ops := httpapi.NewRouter(httpapi.New(deps.Queue, deps.Broker,
		[]models.JobType{models.TranscodeJob, models.CampaignJob}, logger))
	spawn("ops http", func(ctx context.Context) error {
		return serve(ctx, cfg.HTTPAddr, ops)
	})

	spawn("maintenance", func(ctx context.Context) error {
		return maintenance(ctx, cfg, deps, logger)
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()
	wg.Wait()
	return runErr
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve: %w", err)
	}
}

// maintenance schedules grant and outbox cleanup on their cron specs.
func maintenance(ctx context.Context, cfg *config.Config, deps *app.Deps, logger zerolog.Logger) error {
	log := logger.With().Str("component", "maintenance").Logger()
	c := cron.New()

	_, err := c.AddFunc(cfg.Download.CleanupSchedule, func() {
		if _, err := deps.Downloads.CleanupExpired(ctx, time.Now()); err != nil {
			log.Error().Err(err).Msg("grant cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule grant cleanup: %w", err)
	}

	_, err = c.AddFunc(cfg.Retention.Schedule, func() {
		n, err := deps.Outbox.DeleteProcessed(ctx, time.Now().Add(-cfg.Retention.Outbox))
		if err != nil {
			log.Error().Err(err).Msg("outbox cleanup failed")
			return
		}
		if n > 0 {
			log.Info().Int64("deleted", n).Msg("published outbox events removed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule outbox cleanup: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
