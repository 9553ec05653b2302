package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisQueueKey = "video-splitter:jobs"

// RedisQueueConfig configures a Redis-backed job queue.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// PollTimeout bounds each blocking pop so Dequeue can notice context
	// cancellation between attempts.
	PollTimeout time.Duration
}

type redisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection before
// returning. Queued job IDs survive process restarts, so a redeployed runner
// continues draining the same list.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis queue: addr is required")
	}
	key := cfg.Key
	if key == "" {
		key = defaultRedisQueueKey
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis queue: ping: %w", err)
	}
	return &redisQueue{client: client, key: key, pollTimeout: pollTimeout}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("redis queue: enqueue: %w", err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		values, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err == nil {
			if len(values) != 2 {
				return "", fmt.Errorf("redis queue: unexpected BRPOP reply of %d values", len(values))
			}
			return values[1], nil
		}
		if errors.Is(err, redis.Nil) {
			// Timed out with nothing queued; poll again unless cancelled.
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
				continue
			}
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("redis queue: dequeue: %w", err)
	}
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
