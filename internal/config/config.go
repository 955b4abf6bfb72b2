package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	Redis        RedisConfig
	Kafka        KafkaConfig
	S3           S3Config
	Jobs         JobsConfig
	Transcode    TranscodeConfig
	Campaign     CampaignConfig
	Download     DownloadConfig
	Retention    RetentionConfig
	Log          LogConfig
	OTelExporter string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type KafkaConfig struct {
	Brokers        []string
	Topic          string
	OutboxInterval time.Duration
	OutboxBatch    int
}

type S3Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
}

type JobsConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

type TranscodeConfig struct {
	Concurrency int
	WorkDir     string
	FFmpegPath  string
	FFprobePath string
}

type CampaignConfig struct {
	Concurrency      int
	BatchSize        int
	BatchDelay       time.Duration
	MaxPerDay        int64
	GlobalMonthlyCap int64
}

type DownloadConfig struct {
	EncryptionSecret string
	Salt             string
	GrantTTL         time.Duration
	PresignTTL       time.Duration
	CleanupSchedule  string
}

type RetentionConfig struct {
	Schedule  string
	Completed time.Duration
	Failed    time.Duration
	Outbox    time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "jobs")

	v.SetDefault("KAFKA_TOPIC", "job-events")
	v.SetDefault("OUTBOX_INTERVAL", "1s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)

	v.SetDefault("S3_BUCKET", "media")
	v.SetDefault("S3_USE_SSL", false)

	v.SetDefault("JOB_MAX_ATTEMPTS", 3)
	v.SetDefault("JOB_BACKOFF_BASE", "5s")
	v.SetDefault("JOB_MAX_BACKOFF", "1h")
	v.SetDefault("JOB_POLL_INTERVAL", "500ms")
	v.SetDefault("JOB_STALE_AFTER", "30m")

	v.SetDefault("TRANSCODE_CONCURRENCY", 2)
	v.SetDefault("FFMPEG_PATH", "ffmpeg")
	v.SetDefault("FFPROBE_PATH", "ffprobe")

	v.SetDefault("CAMPAIGN_CONCURRENCY", 4)
	v.SetDefault("CAMPAIGN_BATCH_SIZE", 1000)
	v.SetDefault("CAMPAIGN_BATCH_DELAY", "1s")
	v.SetDefault("CAMPAIGN_MAX_PER_DAY", 100000)
	v.SetDefault("CAMPAIGN_MONTHLY_CAP", 5000000)

	v.SetDefault("DOWNLOAD_KEY_SALT", "salt")
	v.SetDefault("DOWNLOAD_GRANT_TTL", "720h")
	v.SetDefault("DOWNLOAD_PRESIGN_TTL", "24h")
	v.SetDefault("DOWNLOAD_CLEANUP_SCHEDULE", "@daily")

	v.SetDefault("RETENTION_SCHEDULE", "@every 10m")
	v.SetDefault("RETENTION_COMPLETED", "24h")
	v.SetDefault("RETENTION_FAILED", "168h")
	v.SetDefault("RETENTION_OUTBOX", "72h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER", "none")
}

// Load reads .env files (when present) and the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL: v.GetString("DATABASE_URL"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(v.GetString("KAFKA_BROKERS")),
			Topic:          v.GetString("KAFKA_TOPIC"),
			OutboxInterval: v.GetDuration("OUTBOX_INTERVAL"),
			OutboxBatch:    v.GetInt("OUTBOX_BATCH_SIZE"),
		},
		S3: S3Config{
			Endpoint:      v.GetString("S3_ENDPOINT"),
			AccessKey:     v.GetString("S3_ACCESS_KEY"),
			SecretKey:     v.GetString("S3_SECRET_KEY"),
			Bucket:        v.GetString("S3_BUCKET"),
			Region:        v.GetString("S3_REGION"),
			UseSSL:        v.GetBool("S3_USE_SSL"),
			PublicBaseURL: v.GetString("S3_PUBLIC_BASE_URL"),
		},
		Jobs: JobsConfig{
			MaxAttempts:  v.GetInt("JOB_MAX_ATTEMPTS"),
			BackoffBase:  v.GetDuration("JOB_BACKOFF_BASE"),
			MaxBackoff:   v.GetDuration("JOB_MAX_BACKOFF"),
			PollInterval: v.GetDuration("JOB_POLL_INTERVAL"),
			StaleAfter:   v.GetDuration("JOB_STALE_AFTER"),
		},
		Transcode: TranscodeConfig{
			Concurrency: v.GetInt("TRANSCODE_CONCURRENCY"),
			WorkDir:     v.GetString("TRANSCODE_WORK_DIR"),
			FFmpegPath:  v.GetString("FFMPEG_PATH"),
			FFprobePath: v.GetString("FFPROBE_PATH"),
		},
		Campaign: CampaignConfig{
			Concurrency:      v.GetInt("CAMPAIGN_CONCURRENCY"),
			BatchSize:        v.GetInt("CAMPAIGN_BATCH_SIZE"),
			BatchDelay:       v.GetDuration("CAMPAIGN_BATCH_DELAY"),
			MaxPerDay:        v.GetInt64("CAMPAIGN_MAX_PER_DAY"),
			GlobalMonthlyCap: v.GetInt64("CAMPAIGN_MONTHLY_CAP"),
		},
		Download: DownloadConfig{
			EncryptionSecret: v.GetString("ENCRYPTION_SECRET"),
			Salt:             v.GetString("DOWNLOAD_KEY_SALT"),
			GrantTTL:         v.GetDuration("DOWNLOAD_GRANT_TTL"),
			PresignTTL:       v.GetDuration("DOWNLOAD_PRESIGN_TTL"),
			CleanupSchedule:  v.GetString("DOWNLOAD_CLEANUP_SCHEDULE"),
		},
		Retention: RetentionConfig{
			Schedule:  v.GetString("RETENTION_SCHEDULE"),
			Completed: v.GetDuration("RETENTION_COMPLETED"),
			Failed:    v.GetDuration("RETENTION_FAILED"),
			Outbox:    v.GetDuration("RETENTION_OUTBOX"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		OTelExporter: v.GetString("OTEL_EXPORTER"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is empty")
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1, got %d", c.Jobs.MaxAttempts)
	}
	if c.Transcode.Concurrency < 1 || c.Campaign.Concurrency < 1 {
		return errors.New("worker concurrency must be >= 1")
	}
	if c.Campaign.MaxPerDay <= 0 || c.Campaign.GlobalMonthlyCap <= 0 {
		return errors.New("campaign limits must be positive")
	}
	switch c.OTelExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown OTEL_EXPORTER %q", c.OTelExporter)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
