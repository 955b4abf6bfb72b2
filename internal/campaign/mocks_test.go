package campaign

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

type EnqueuerMock struct {
	mock.Mock
}

func (m *EnqueuerMock) Enqueue(ctx context.Context, t models.JobType, payload any, opts queue.Options) (uuid.UUID, error) {
	args := m.Called(ctx, t, payload, opts)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type SignalsMock struct {
	mock.Mock
}

func (m *SignalsMock) Notify(ctx context.Context, campaignID uuid.UUID) error {
	return m.Called(ctx, campaignID).Error(0)
}

func (m *SignalsMock) Subscribe(ctx context.Context, campaignID uuid.UUID) (<-chan struct{}, func(), error) {
	args := m.Called(ctx, campaignID)
	var ch <-chan struct{}
	if v := args.Get(0); v != nil {
		ch = v.(<-chan struct{})
	}
	return ch, func() {}, args.Error(1)
}
