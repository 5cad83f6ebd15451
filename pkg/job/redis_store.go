package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces all crawler keys in Redis.
const DefaultKeyPrefix = "crawler:"

// RedisStore keeps job snapshots in a Redis hash so that other processes
// can poll them. It is a mirror, not a resume mechanism: jobs found after a
// restart are not continued.
type RedisStore struct {
	redis redis.Cmdable
	key   string
}

// NewRedisStore creates a store using the hash <prefix>jobs.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{redis: rdb, key: prefix + "jobs"}
}

// Save stores a snapshot.
func (s *RedisStore) Save(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.redis.HSet(ctx, s.key, job.ID, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Get returns a snapshot or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	data, err := s.redis.HGet(ctx, s.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("redis hget: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

// List returns all jobs, oldest first.
func (s *RedisStore) List(ctx context.Context) ([]Job, error) {
	values, err := s.redis.HVals(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hvals: %w", err)
	}

	jobs := make([]Job, 0, len(values))
	for _, v := range values {
		var job Job
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

// Delete removes a job.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}
