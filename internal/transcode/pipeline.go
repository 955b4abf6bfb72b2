package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
	"github.com/romariotrain/media-jobs/internal/storage/blob"
)

var ErrNoVariants = errors.New("no quality variant could be produced")

type ProcessingStatus string

const (
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

type Variant struct {
	VideoID      uuid.UUID `db:"video_id" json:"video_id"`
	Quality      string    `db:"quality" json:"quality"`
	Width        int       `db:"width" json:"width"`
	Height       int       `db:"height" json:"height"`
	VideoBitrate string    `db:"video_bitrate" json:"video_bitrate"`
	AudioBitrate string    `db:"audio_bitrate" json:"audio_bitrate"`
	StorageKey   string    `db:"storage_key" json:"storage_key"`
	URL          string    `db:"url" json:"url"`
	FileSizeMB   float64   `db:"file_size_mb" json:"file_size_mb"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// Primary is the playback pointer stored on the video row.
type Primary struct {
	URL             string
	Quality         string
	DurationSeconds *int
}

type VariantStore interface {
	UpsertVariant(ctx context.Context, v *Variant) error
}

type VideoStore interface {
	SetProcessingStatus(ctx context.Context, videoID uuid.UUID, status ProcessingStatus) error
	SetPrimary(ctx context.Context, videoID uuid.UUID, p Primary) error
}

type Result struct {
	VideoID  uuid.UUID
	Probed   bool
	Variants []Variant
	Skipped  []string
}

type Config struct {
	// WorkDir holds per-job scratch directories; empty means os.TempDir.
	WorkDir string
	// Bucket and PublicBaseURL shape the URLs stored for variants.
	Bucket        string
	PublicBaseURL string
	Logger        zerolog.Logger
}

type Pipeline struct {
	blobs    blob.Store
	variants VariantStore
	videos   VideoStore
	toolkit  Toolkit
	config   Config
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewPipeline(blobs blob.Store, variants VariantStore, videos VideoStore, toolkit Toolkit, cfg Config) *Pipeline {
	return &Pipeline{
		blobs:    blobs,
		variants: variants,
		videos:   videos,
		toolkit:  toolkit,
		config:   cfg,
		logger:   cfg.Logger.With().Str("component", "transcode_pipeline").Logger(),
		tracer:   otel.Tracer("github.com/romariotrain/media-jobs/internal/transcode"),
	}
}

// Handle is the queue handler for transcode jobs.
func (p *Pipeline) Handle(ctx context.Context, job *models.Job) error {
	var payload models.TranscodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("decode transcode payload: %w", err))
	}

	_, err := p.Process(ctx, payload)
	if err != nil && (queue.IsPermanent(err) || job.Attempts >= job.MaxAttempts) && ctx.Err() == nil {
		if serr := p.videos.SetProcessingStatus(ctx, payload.VideoID, ProcessingStatusFailed); serr != nil {
			p.logger.Warn().Err(serr).Str("video_id", payload.VideoID.String()).Msg("failed to mark video failed")
		}
	}
	return err
}

// Process transcodes one source into every eligible rung. Encode failures
// skip the rung; storage and persistence failures abort so the job retries.
func (p *Pipeline) Process(ctx context.Context, in models.TranscodePayload) (*Result, error) {
	if in.VideoID == uuid.Nil || strings.TrimSpace(in.SourceStorageKey) == "" {
		return nil, queue.Permanent(fmt.Errorf("%w: video id and source key are required", models.ErrInvalidArgument))
	}

	logger := zerolog.Ctx(ctx).With().
		Str("video_id", in.VideoID.String()).
		Str("source_key", in.SourceStorageKey).
		Logger()
	if logger.GetLevel() == zerolog.Disabled {
		logger = p.logger.With().
			Str("video_id", in.VideoID.String()).
			Str("source_key", in.SourceStorageKey).
			Logger()
	}

	if err := p.videos.SetProcessingStatus(ctx, in.VideoID, ProcessingStatusProcessing); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	workDir, err := os.MkdirTemp(p.config.WorkDir, "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, "source"+sourceExt(in.MimeType))
	if err := p.fetchSource(ctx, in.SourceStorageKey, sourcePath); err != nil {
		return nil, err
	}

	res := &Result{VideoID: in.VideoID}
	rungs := FallbackRungs()
	info, err := p.toolkit.Probe(ctx, sourcePath)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Err(err).Msg("probe failed, using fallback ladder")
	default:
		res.Probed = true
		rungs = SelectRungs(info.Height)
		logger.Info().
			Int("width", info.Width).
			Int("height", info.Height).
			Float64("duration", info.Duration).
			Int("rungs", len(rungs)).
			Msg("source probed")
	}

	for _, r := range rungs {
		v, err := p.transcodeRung(ctx, in.VideoID, sourcePath, workDir, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var skip *rungError
			if errors.As(err, &skip) {
				logger.Error().Err(err).Str("quality", r.Quality).Msg("rung failed, skipping")
				res.Skipped = append(res.Skipped, r.Quality)
				continue
			}
			return nil, err
		}
		res.Variants = append(res.Variants, *v)
		logger.Info().
			Str("quality", v.Quality).
			Float64("size_mb", v.FileSizeMB).
			Msg("rung uploaded")
	}

	if len(res.Variants) == 0 {
		return res, queue.Permanent(fmt.Errorf("video %s: %w (%d rungs attempted)", in.VideoID, ErrNoVariants, len(rungs)))
	}

	best := res.Variants[0]
	primary := Primary{URL: best.URL, Quality: best.Quality}
	if res.Probed && info.Duration > 0 {
		d := int(math.Round(info.Duration))
		primary.DurationSeconds = &d
	}
	if err := p.videos.SetPrimary(ctx, in.VideoID, primary); err != nil {
		return nil, fmt.Errorf("set primary: %w", err)
	}
	if err := p.videos.SetProcessingStatus(ctx, in.VideoID, ProcessingStatusCompleted); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	logger.Info().
		Int("variants", len(res.Variants)).
		Strs("skipped", res.Skipped).
		Str("primary", best.Quality).
		Msg("transcode finished")
	return res, nil
}

func (p *Pipeline) fetchSource(ctx context.Context, key, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	defer f.Close()

	if err := p.blobs.Download(ctx, key, f); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("fetch source: %w", err))
		}
		return fmt.Errorf("fetch source: %w", err)
	}
	return f.Sync()
}

// rungError marks a failure local to one rung.
type rungError struct {
	err error
}

func (e *rungError) Error() string { return e.err.Error() }
func (e *rungError) Unwrap() error { return e.err }

func (p *Pipeline) transcodeRung(ctx context.Context, videoID uuid.UUID, source, workDir string, r Rung) (*Variant, error) {
	ctx, span := p.tracer.Start(ctx, "transcode.rung", trace.WithAttributes(
		attribute.String("video.id", videoID.String()),
		attribute.String("rung.quality", r.Quality),
	))
	defer span.End()

	out := filepath.Join(workDir, r.Quality+".mp4")
	start := time.Now()
	if err := p.toolkit.Encode(ctx, source, out, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return nil, &rungError{err: err}
	}
	span.SetAttributes(attribute.Int64("encode.ms", time.Since(start).Milliseconds()))

	f, err := os.Open(out)
	if err != nil {
		return nil, &rungError{err: fmt.Errorf("open output: %w", err)}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &rungError{err: fmt.Errorf("stat output: %w", err)}
	}
	if st.Size() == 0 {
		return nil, &rungError{err: fmt.Errorf("encoder produced empty output for %s", r.Quality)}
	}

	key := StorageKey(r.Quality, videoID.String())
	if err := p.blobs.Upload(ctx, key, f, st.Size(), "video/mp4"); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	v := &Variant{
		VideoID:      videoID,
		Quality:      r.Quality,
		Width:        r.Width,
		Height:       r.Height,
		VideoBitrate: r.VideoBitrate,
		AudioBitrate: r.AudioBitrate,
		StorageKey:   key,
		URL:          p.objectURL(key),
		FileSizeMB:   math.Round(float64(st.Size())/(1024*1024)*100) / 100,
		IsActive:     true,
	}
	if err := p.variants.UpsertVariant(ctx, v); err != nil {
		return nil, fmt.Errorf("upsert variant %s: %w", r.Quality, err)
	}
	return v, nil
}

func (p *Pipeline) objectURL(key string) string {
	if base := strings.TrimRight(p.config.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", p.config.Bucket, key)
}

func sourceExt(mime string) string {
	switch strings.ToLower(mime) {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	case "video/x-msvideo":
		return ".avi"
	default:
		return ".mp4"
	}
}
