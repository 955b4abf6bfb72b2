package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/campaign"
	"github.com/romariotrain/media-jobs/internal/config"
	"github.com/romariotrain/media-jobs/internal/download"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
	"github.com/romariotrain/media-jobs/internal/storage/blob"
	pg "github.com/romariotrain/media-jobs/internal/storage/postgres"
	"github.com/romariotrain/media-jobs/internal/storage/redis"
)

// Deps is the wired job core shared by the worker and the admin CLI.
type Deps struct {
	DB    *sqlx.DB
	Redis *goredis.Client
	// Blobs is nil when no S3 endpoint is configured.
	Blobs blob.Store

	Outbox    *pg.OutboxRepo
	Jobs      *pg.JobRepo
	Videos    *pg.VideoRepo
	Campaigns *pg.CampaignRepo
	Grants    *pg.GrantRepo

	Broker  *redis.Broker
	Signals *redis.Signals

	Queue     *queue.Queue
	Campaign  *campaign.Service
	Downloads *download.Service
}

// Open connects to Postgres, Redis and (optionally) S3, applies migrations
// and builds the services. Callers must Close the result.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Deps, error) {
	d := &Deps{}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	d.DB = db

	applied, err := pg.Migrate(ctx, db)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logger.Info().Strs("migrations", applied).Msg("schema migrated")
	}

	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Redis = rdb

	if cfg.S3.Endpoint != "" {
		store, err := blob.NewMinIO(ctx, blob.MinIOConfig{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Logger:    logger,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("blob store: %w", err)
		}
		d.Blobs = store
	}

	d.Outbox = pg.NewOutboxRepo(db)
	d.Jobs = pg.NewJobRepo(db, d.Outbox)
	d.Videos = pg.NewVideoRepo(db)
	d.Campaigns = pg.NewCampaignRepo(db)
	d.Grants = pg.NewGrantRepo(db)

	d.Broker = redis.NewBroker(rdb, cfg.Redis.Prefix)
	d.Signals = redis.NewSignals(rdb, cfg.Redis.Prefix+":campaign:control")

	d.Queue, err = queue.New(d.Jobs, d.Broker, queue.Config{
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		BackoffBase:  cfg.Jobs.BackoffBase,
		MaxBackoff:   cfg.Jobs.MaxBackoff,
		PollInterval: cfg.Jobs.PollInterval,
		StaleAfter:   cfg.Jobs.StaleAfter,
		Logger:       logger,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("job queue: %w", err)
	}

	d.Campaign = campaign.NewService(d.Campaigns, d.Queue, d.Signals, campaign.Limits{
		MaxPerDay:        int(cfg.Campaign.MaxPerDay),
		GlobalMonthlyCap: cfg.Campaign.GlobalMonthlyCap,
	}, logger)

	cipher, err := download.NewCipher(cfg.Download.EncryptionSecret, cfg.Download.Salt, 0)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("download cipher: %w", err)
	}
	d.Downloads = download.NewService(cipher, d.Grants, d.Blobs, download.Config{
		GrantTTL:   cfg.Download.GrantTTL,
		PresignTTL: cfg.Download.PresignTTL,
		Logger:     logger,
	})

	return d, nil
}

func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
