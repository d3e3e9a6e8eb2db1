package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "stock:outbox:"
	failedKey = "stock:outbox:failed"
)

// RedisStore keeps outbox entries in Redis lists, one per priority, so the
// queue survives process restarts. Entries that exhaust their retries are
// parked in a separate failed bucket for operator inspection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed outbox store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func listKey(p Priority) string {
	return keyPrefix + string(p)
}

// Push appends an entry to the tail of its priority list.
func (s *RedisStore) Push(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	return s.client.RPush(ctx, listKey(e.Priority), data).Err()
}

// Pop removes and returns the oldest entry for the given priority, or nil
// when the list is empty.
func (s *RedisStore) Pop(ctx context.Context, p Priority) (*Entry, error) {
	data, err := s.client.LPop(ctx, listKey(p)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox entry: %w", err)
	}
	return &entry, nil
}

// Len returns the number of queued entries for the given priority.
func (s *RedisStore) Len(ctx context.Context, p Priority) (int64, error) {
	return s.client.LLen(ctx, listKey(p)).Result()
}

// Fail parks an entry in the failed bucket.
func (s *RedisStore) Fail(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	return s.client.RPush(ctx, failedKey, data).Err()
}

// FailedCount returns the number of permanently failed entries.
func (s *RedisStore) FailedCount(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, failedKey).Result()
}
