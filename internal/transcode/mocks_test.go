package transcode

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type VariantStoreMock struct {
	mock.Mock
}

func (m *VariantStoreMock) UpsertVariant(ctx context.Context, v *Variant) error {
	return m.Called(ctx, v).Error(0)
}

type VideoStoreMock struct {
	mock.Mock
}

func (m *VideoStoreMock) SetProcessingStatus(ctx context.Context, videoID uuid.UUID, status ProcessingStatus) error {
	return m.Called(ctx, videoID, status).Error(0)
}

func (m *VideoStoreMock) SetPrimary(ctx context.Context, videoID uuid.UUID, p Primary) error {
	return m.Called(ctx, videoID, p).Error(0)
}

// fakeToolkit writes a small file per rung instead of running ffmpeg.
type fakeToolkit struct {
	mu       sync.Mutex
	info     MediaInfo
	probeErr error
	failing  map[string]error
	encoded  []string
}

func (f *fakeToolkit) Probe(context.Context, string) (MediaInfo, error) {
	return f.info, f.probeErr
}

func (f *fakeToolkit) Encode(_ context.Context, _, output string, r Rung) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encoded = append(f.encoded, r.Quality)
	if err := f.failing[r.Quality]; err != nil {
		return err
	}
	return os.WriteFile(output, []byte("mp4:"+r.Quality), 0o644)
}
