package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

// popDue removes and returns the lowest-scored member whose score is at or
// below ARGV[1]. Running it as a script keeps read and remove atomic across
// competing workers.
var popDue = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
return ids[1]
`)

// Broker keeps one sorted set per job type, scored by run-at in milliseconds.
type Broker struct {
	client goredis.UniversalClient
	prefix string
}

func NewBroker(client goredis.UniversalClient, prefix string) *Broker {
	if prefix == "" {
		prefix = "jobs"
	}
	return &Broker{client: client, prefix: prefix}
}

var _ queue.Broker = (*Broker)(nil)

func (b *Broker) key(t models.JobType) string {
	return b.prefix + ":queue:" + string(t)
}

func (b *Broker) Push(ctx context.Context, t models.JobType, id uuid.UUID, runAt time.Time) error {
	err := b.client.ZAdd(ctx, b.key(t), goredis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: id.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

func (b *Broker) Pop(ctx context.Context, t models.JobType, now time.Time) (uuid.UUID, bool, error) {
	raw, err := popDue.Run(ctx, b.client, []string{b.key(t)}, strconv.FormatInt(now.UnixMilli(), 10)).Text()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis pop: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis pop: bad member %q: %w", raw, err)
	}
	return id, true, nil
}

func (b *Broker) Len(ctx context.Context, t models.JobType) (int64, error) {
	n, err := b.client.ZCard(ctx, b.key(t)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return n, nil
}
