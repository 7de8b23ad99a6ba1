// Package status tracks per-document processing state in Redis. Entries
// carry a TTL and are refreshed on every write; the durable record lives
// in Postgres, this store only answers polls cheaply.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insightflow/backend/internal/models"
)

// ErrNotFound means no status entry exists for the file. Callers must
// not conflate this with StatusPending.
var ErrNotFound = errors.New("status: file not found")

const (
	statusPrefix   = "status:"
	dispatchPrefix = "dispatch:"

	// dispatchTTL bounds how long a dispatch guard can block re-triggering
	// if a worker dies before writing any status.
	dispatchTTL = 10 * time.Minute
)

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Set(ctx context.Context, fileID string, st models.Status) error {
	if !st.Valid() {
		return fmt.Errorf("status: invalid value %q", st)
	}
	if err := s.client.Set(ctx, statusPrefix+fileID, string(st), s.ttl).Err(); err != nil {
		return fmt.Errorf("status set %s: %w", fileID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, fileID string) (models.Status, error) {
	val, err := s.client.Get(ctx, statusPrefix+fileID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("status get %s: %w", fileID, err)
	}
	return models.Status(val), nil
}

func (s *Store) Delete(ctx context.Context, fileID string) error {
	if err := s.client.Del(ctx, statusPrefix+fileID, dispatchPrefix+fileID).Err(); err != nil {
		return fmt.Errorf("status delete %s: %w", fileID, err)
	}
	return nil
}

// AcquireDispatch closes the window between two concurrent generate
// triggers: only the caller that wins the SETNX may enqueue the task.
func (s *Store) AcquireDispatch(ctx context.Context, fileID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, dispatchPrefix+fileID, "1", dispatchTTL).Result()
	if err != nil {
		return false, fmt.Errorf("status dispatch %s: %w", fileID, err)
	}
	return ok, nil
}

// ReleaseDispatch frees the guard so a failed enqueue can be retried.
func (s *Store) ReleaseDispatch(ctx context.Context, fileID string) error {
	if err := s.client.Del(ctx, dispatchPrefix+fileID).Err(); err != nil {
		return fmt.Errorf("status release dispatch %s: %w", fileID, err)
	}
	return nil
}
