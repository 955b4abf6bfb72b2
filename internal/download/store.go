package download

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

type Grant struct {
	UserID    string    `db:"user_id"`
	DeviceID  string    `db:"device_id"`
	VideoID   uuid.UUID `db:"video_id"`
	Quality   string    `db:"quality"`
	Token     string    `db:"decryption_token"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Revoked   bool      `db:"revoked"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type GrantStore interface {
	// Upsert inserts or refreshes the grant for (user, device, video). A
	// revoked row is left untouched and ErrGrantRevoked is returned.
	Upsert(ctx context.Context, g *Grant) (*Grant, error)
	Get(ctx context.Context, userID, deviceID string, videoID uuid.UUID) (*Grant, error)
	// Revoke marks grants revoked for one device, or every device when
	// deviceID is empty. It returns the number of rows newly revoked.
	Revoke(ctx context.Context, userID, deviceID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type grantKey struct {
	userID   string
	deviceID string
	videoID  uuid.UUID
}

type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[grantKey]Grant
	clock  func() time.Time
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[grantKey]Grant), clock: time.Now}
}

func (s *MemoryGrantStore) Upsert(ctx context.Context, g *Grant) (*Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := grantKey{g.UserID, g.DeviceID, g.VideoID}
	now := s.clock()
	next := *g
	next.Revoked = false
	next.CreatedAt = now
	next.UpdatedAt = now
	if cur, ok := s.grants[k]; ok {
		if cur.Revoked {
			return nil, ErrGrantRevoked
		}
		next.CreatedAt = cur.CreatedAt
	}
	s.grants[k] = next
	out := next
	return &out, nil
}

func (s *MemoryGrantStore) Get(ctx context.Context, userID, deviceID string, videoID uuid.UUID) (*Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[grantKey{userID, deviceID, videoID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &g, nil
}

func (s *MemoryGrantStore) Revoke(ctx context.Context, userID, deviceID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, g := range s.grants {
		if k.userID != userID || g.Revoked {
			continue
		}
		if deviceID != "" && k.deviceID != deviceID {
			continue
		}
		g.Revoked = true
		g.UpdatedAt = s.clock()
		s.grants[k] = g
		n++
	}
	return n, nil
}

func (s *MemoryGrantStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, g := range s.grants {
		if g.ExpiresAt.Before(before) {
			delete(s.grants, k)
			n++
		}
	}
	return n, nil
}
