package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hintTTL bounds how long a stale dev login id lingers.
const hintTTL = 30 * 24 * time.Hour

// HintStore persists best-effort login hints in Redis.
type HintStore struct {
	client *Client
}

// NewHintStore creates a Redis-backed hint store.
func NewHintStore(client *Client) *HintStore {
	return &HintStore{client: client}
}

// SetLastDevLogin records the id used for the most recent dev login.
func (s *HintStore) SetLastDevLogin(ctx context.Context, id string) error {
	if err := s.client.rdb.Set(ctx, s.client.key("hints", "last_dev_login"), id, hintTTL).Err(); err != nil {
		return fmt.Errorf("set last dev login: %w", err)
	}
	return nil
}

// LastDevLogin returns the recorded dev login id, if any.
func (s *HintStore) LastDevLogin(ctx context.Context) (string, bool, error) {
	val, err := s.client.rdb.Get(ctx, s.client.key("hints", "last_dev_login")).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get last dev login: %w", err)
	}
	return val, true, nil
}

// ClearLastDevLogin forgets the recorded id.
func (s *HintStore) ClearLastDevLogin(ctx context.Context) error {
	return s.client.rdb.Del(ctx, s.client.key("hints", "last_dev_login")).Err()
}
