package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/jobs")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "job-events", cfg.Kafka.Topic)
	require.Empty(t, cfg.Kafka.Brokers)
	require.Equal(t, 3, cfg.Jobs.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Jobs.BackoffBase)
	require.Equal(t, time.Second, cfg.Campaign.BatchDelay)
	require.Equal(t, 1000, cfg.Campaign.BatchSize)
	require.EqualValues(t, 100000, cfg.Campaign.MaxPerDay)
	require.EqualValues(t, 5000000, cfg.Campaign.GlobalMonthlyCap)
	require.Equal(t, 30*24*time.Hour, cfg.Download.GrantTTL)
	require.Equal(t, "media", cfg.S3.Bucket)
	require.Equal(t, "none", cfg.OTelExporter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/jobs")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("JOB_MAX_ATTEMPTS", "5")
	t.Setenv("CAMPAIGN_BATCH_DELAY", "250ms")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, 5, cfg.Jobs.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Campaign.BatchDelay)
	require.True(t, cfg.S3.UseSSL)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=postgres://from-file/jobs\nTRANSCODE_CONCURRENCY=7\n"), 0o600))
	// godotenv never overrides variables that are already set.
	t.Setenv("DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))
	t.Setenv("TRANSCODE_CONCURRENCY", "")
	require.NoError(t, os.Unsetenv("TRANSCODE_CONCURRENCY"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://from-file/jobs", cfg.DatabaseURL)
	require.Equal(t, 7, cfg.Transcode.Concurrency)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database url", env: map[string]string{"DATABASE_URL": ""}},
		{name: "zero attempts", env: map[string]string{"JOB_MAX_ATTEMPTS": "0"}},
		{name: "zero concurrency", env: map[string]string{"CAMPAIGN_CONCURRENCY": "0"}},
		{name: "unknown exporter", env: map[string]string{"OTEL_EXPORTER": "jaeger"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/jobs")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
		})
	}
}
