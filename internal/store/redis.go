package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
)

const (
	keyJobRecord = "fetchdeck:job:"

	redisConnectTimeout = 5 * time.Second
)

// RedisStore persists job records as JSON values in Redis.
type RedisStore struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		log:    logger.Default().WithComponent("store.redis"),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}
	if err := s.client.Set(ctx, keyJobRecord+j.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write job %s: %w", j.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.Get(ctx, keyJobRecord+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &j, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyJobRecord+id).Err(); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// List enumerates every persisted job record. Entries that cannot be read
// or decoded are skipped with a warning.
func (s *RedisStore) List(ctx context.Context) ([]*job.Job, error) {
	var jobs []*job.Job

	iter := s.client.Scan(ctx, 0, keyJobRecord+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Result()
		if err != nil {
			s.log.Warn(ctx, "skipping unreadable job record", map[string]any{"key": key, "reason": err.Error()})
			continue
		}

		var j job.Job
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			s.log.Warn(ctx, "skipping corrupt job record", map[string]any{"key": key, "reason": err.Error()})
			continue
		}
		jobs = append(jobs, &j)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan job records: %w", err)
	}
	return jobs, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
