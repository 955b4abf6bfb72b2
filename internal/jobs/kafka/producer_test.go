package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer(t testing.TB, mutate func(*ProducerConfig)) *Producer {
	t.Helper()
	cfg := ProducerConfig{
		Brokers: []string{"kafka-0:9092", "kafka-1:9092"},
		Topic:   "job-events",
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	return p
}

func TestNewProducer(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		p := newTestProducer(t, nil)

		assert.Equal(t, "job-events", p.config.Topic)
		assert.Equal(t, 3, p.config.MaxRetries)
		assert.Equal(t, 100*time.Millisecond, p.config.RetryBackoff)
		assert.Equal(t, 10*time.Second, p.config.WriteTimeout)
		assert.Equal(t, 100, p.config.BatchSize)
		assert.False(t, p.config.Async)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		p := newTestProducer(t, func(c *ProducerConfig) {
			c.MaxRetries = 6
			c.RetryBackoff = 250 * time.Millisecond
			c.BatchSize = 20
			c.Async = true
		})

		assert.Equal(t, 6, p.config.MaxRetries)
		assert.Equal(t, 250*time.Millisecond, p.config.RetryBackoff)
		assert.Equal(t, 20, p.config.BatchSize)
		assert.True(t, p.config.Async)
	})

	rejected := []struct {
		name    string
		mutate  func(*ProducerConfig)
		wantErr string
	}{
		{"no brokers", func(c *ProducerConfig) { c.Brokers = nil }, "brokers list is empty"},
		{"no topic", func(c *ProducerConfig) { c.Topic = "" }, "topic is empty"},
		{"negative retries", func(c *ProducerConfig) { c.MaxRetries = -2 }, "max_retries cannot be negative"},
		{"negative backoff", func(c *ProducerConfig) { c.RetryBackoff = -time.Millisecond }, "retry_backoff cannot be negative"},
		{"negative write timeout", func(c *ProducerConfig) { c.WriteTimeout = -time.Second }, "write_timeout cannot be negative"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ProducerConfig{Brokers: []string{"kafka-0:9092"}, Topic: "job-events", Logger: zerolog.Nop()}
			tt.mutate(&cfg)

			p, err := NewProducer(cfg)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("write: %w", context.DeadlineExceeded), false},
		{kafkago.LeaderNotAvailable, true},
		{kafkago.NotLeaderForPartition, true},
		{kafkago.MessageSizeTooLarge, false},
		{errors.New("dial tcp kafka-0:9092: connection refused"), true},
		{errors.New("read: i/o timeout"), true},
		{errors.New("Invalid record batch"), false},
		{errors.New("SASL Authentication failed"), false},
		{errors.New("unsupported compression codec"), false},
		{errors.New("broker went away"), true},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetriableError(tt.err))
		})
	}
}

func TestProducer_GetMetrics(t *testing.T) {
	p := newTestProducer(t, nil)
	assert.Equal(t, Metrics{}, p.GetMetrics())

	// Duration without any successful publish must not divide by zero.
	p.metrics.PublishDuration.Add(int64(40 * time.Millisecond))
	assert.Zero(t, p.GetMetrics().AvgPublishTime)

	p.metrics.MessagesPublished.Add(4)
	p.metrics.MessagesFailed.Add(1)
	p.metrics.RetriesTotal.Add(2)

	assert.Equal(t, Metrics{
		MessagesPublished: 4,
		MessagesFailed:    1,
		RetriesTotal:      2,
		AvgPublishTime:    10 * time.Millisecond,
	}, p.GetMetrics())
}

func TestProducer_Closed(t *testing.T) {
	p := newTestProducer(t, nil)

	// The writer never dialled, so Close needs no broker.
	require.NoError(t, p.Close())
	assert.True(t, p.closed.Load())

	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already closed")

	ctx := context.Background()
	events := []Message{
		{Key: "job-1", Value: []byte(`{"status":"active"}`), Headers: map[string]string{"event_type": "JobStatusChanged"}},
		{Key: "job-1", Value: []byte(`{"status":"completed"}`)},
	}
	for name, call := range map[string]func() error{
		"publish":      func() error { return p.Publish(ctx, "job-1", []byte("{}")) },
		"batch":        func() error { return p.PublishBatch(ctx, events) },
		"health check": func() error { return p.HealthCheck(ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "producer is closed")
		})
	}
}

func TestProducer_PublishBatch_Empty(t *testing.T) {
	p := newTestProducer(t, nil)
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
	assert.Zero(t, p.GetMetrics().MessagesPublished)
}

// GetMetrics is read after every outbox batch.
func BenchmarkProducer_GetMetrics(b *testing.B) {
	p := newTestProducer(b, nil)
	p.metrics.MessagesPublished.Add(1000)
	p.metrics.PublishDuration.Add(int64(time.Second))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.GetMetrics()
	}
}
