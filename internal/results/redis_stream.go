package results

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "bench:results"

// StreamClient is the slice of *redis.Client the stream sink uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream publishes a compact entry per record so dashboards can follow a run.
type RedisStream struct {
	client StreamClient
	stream string
	maxLen int64
}

func NewRedisStream(client StreamClient, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Write(ctx context.Context, rec *Record) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"run_id":     rec.RunID,
			"id":         rec.ID,
			"dataset":    rec.Dataset,
			"model":      rec.Model,
			"correct":    rec.Correct,
			"status":     rec.Status,
			"reason":     rec.Reason,
			"attempts":   rec.Attempts,
			"latency_ms": rec.LatencyMs,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
