package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-jobs/internal/campaign"
	"github.com/romariotrain/media-jobs/internal/download"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/storage/postgres/migrations"
	"github.com/romariotrain/media-jobs/internal/transcode"
)

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles(fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 1")},
		"0001_a.sql": {Data: []byte("SELECT 1")},
		"README.md":  {Data: []byte("docs")},
		"sub":        {Mode: os.ModeDir},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)

	embedded, err := migrationFiles(migrations.Files)
	require.NoError(t, err)
	require.NotEmpty(t, embedded)
	require.Equal(t, "0001_jobs.sql", embedded[0])
}

// openTestDB connects to TEST_DATABASE_URL and applies migrations. Tests
// are skipped when the variable is unset.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = Migrate(ctx, db)
	require.NoError(t, err)

	// A second run is a no-op.
	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	require.Empty(t, applied)
	return db
}

func newJob(dedup *string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:          uuid.New(),
		Type:        models.TranscodeJob,
		Payload:     json.RawMessage(`{"video_id":"x"}`),
		DedupKey:    dedup,
		Status:      models.QueuedStatus,
		MaxAttempts: 2,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestJobRepo_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	outbox := NewOutboxRepo(db)
	repo := NewJobRepo(db, outbox)

	key := uuid.NewString()
	j, err := repo.Create(ctx, newJob(&key))
	require.NoError(t, err)

	dup, err := repo.Create(ctx, newJob(&key))
	require.ErrorIs(t, err, models.ErrDuplicate)
	require.Equal(t, j.ID, dup.ID)

	claimed, err := repo.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, models.ActiveStatus, claimed.Status)
	require.Equal(t, 1, claimed.Attempts)

	_, err = repo.Claim(ctx, j.ID)
	require.ErrorIs(t, err, models.ErrConflict)

	done, err := repo.Transition(ctx, j.ID, models.CompletedStatus, func(j *models.Job) { j.LastError = "" })
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)

	_, err = repo.Transition(ctx, j.ID, models.ActiveStatus, nil)
	require.Error(t, err)

	// The key is free again once the first job is terminal.
	_, err = repo.Create(ctx, newJob(&key))
	require.NoError(t, err)

	pending, err := outbox.GetPending(ctx, 1000)
	require.NoError(t, err)
	var types []string
	for _, rec := range pending {
		if rec.AggregateID == j.ID.String() {
			types = append(types, rec.EventType)
		}
	}
	require.Len(t, types, 3)

	_, err = repo.Claim(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCampaignRepo_ApplyBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCampaignRepo(db)

	videoID := uuid.New()
	_, err := db.ExecContext(ctx, `INSERT INTO videos (id) VALUES ($1)`, videoID)
	require.NoError(t, err)

	now := time.Now().UTC()
	c := &campaign.Campaign{
		ID: uuid.New(), VideoID: videoID, TotalCount: 1500, RemainingCount: 1500,
		DurationDays: 1, Pattern: campaign.PatternSteady, DailyLimit: 1500,
		Status: campaign.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, c))

	_, err = repo.ApplyBatch(ctx, c.ID, 1000)
	require.ErrorIs(t, err, models.ErrConflict)

	running, err := repo.UpdateStatus(ctx, c.ID, campaign.StatusPending, campaign.StatusRunning, now)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)

	_, err = repo.UpdateStatus(ctx, c.ID, campaign.StatusPending, campaign.StatusRunning, now)
	require.ErrorIs(t, err, models.ErrConflict)

	got, err := repo.ApplyBatch(ctx, c.ID, 1000)
	require.NoError(t, err)
	require.Equal(t, 1000, got.ExecutedCount)
	require.Equal(t, 500, got.RemainingCount)

	_, err = repo.ApplyBatch(ctx, c.ID, 1000)
	require.ErrorIs(t, err, models.ErrConflict)

	var views int64
	require.NoError(t, db.GetContext(ctx, &views, `SELECT boosted_view_count FROM videos WHERE id = $1`, videoID))
	require.EqualValues(t, 1000, views)

	total, err := repo.MonthlyExecuted(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.GreaterOrEqual(t, total, int64(1000))
}

func TestVideoRepo_Variants(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewVideoRepo(db)

	videoID := uuid.New()
	_, err := db.ExecContext(ctx, `INSERT INTO videos (id) VALUES ($1)`, videoID)
	require.NoError(t, err)

	v := &transcode.Variant{
		VideoID: videoID, Quality: "720p", Width: 1280, Height: 720,
		VideoBitrate: "2500k", AudioBitrate: "128k",
		StorageKey: "videos/720p/x.mp4", URL: "s3://media/videos/720p/x.mp4",
		FileSizeMB: 1.5, IsActive: true,
	}
	require.NoError(t, repo.UpsertVariant(ctx, v))
	v.FileSizeMB = 2.25
	require.NoError(t, repo.UpsertVariant(ctx, v))

	list, err := repo.ListVariants(ctx, videoID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.InDelta(t, 2.25, list[0].FileSizeMB, 0.001)

	require.NoError(t, repo.SetProcessingStatus(ctx, videoID, transcode.ProcessingStatusCompleted))
	require.NoError(t, repo.SetPrimary(ctx, videoID, transcode.Primary{URL: v.URL, Quality: v.Quality}))
	require.ErrorIs(t, repo.SetProcessingStatus(ctx, uuid.New(), transcode.ProcessingStatusFailed), models.ErrNotFound)
}

func TestGrantRepo_RevokeIsSticky(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewGrantRepo(db)

	now := time.Now().UTC()
	g := &download.Grant{
		UserID: uuid.NewString(), DeviceID: "device-1", VideoID: uuid.New(), Quality: "720p",
		Token: "t1", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	_, err := repo.Upsert(ctx, g)
	require.NoError(t, err)

	g.Token = "t2"
	got, err := repo.Upsert(ctx, g)
	require.NoError(t, err)
	require.Equal(t, "t2", got.Token)

	n, err := repo.Revoke(ctx, g.UserID, "")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = repo.Upsert(ctx, g)
	require.ErrorIs(t, err, download.ErrGrantRevoked)

	stored, err := repo.Get(ctx, g.UserID, g.DeviceID, g.VideoID)
	require.NoError(t, err)
	require.True(t, stored.Revoked)

	n, err = repo.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))
}
