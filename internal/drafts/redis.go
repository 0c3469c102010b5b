package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. One hash-free key per value keeps
// the layout mirroring plain string-keyed client storage.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "client:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "client:"}
}

func (s *RedisStore) key(clientID, suffix string) string {
	return s.prefix + clientID + ":" + suffix
}

func (s *RedisStore) LastViewed(ctx context.Context, clientID string) (string, error) {
	value, err := s.client.Get(ctx, s.key(clientID, "last-viewed")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last-viewed: %w", err)
	}
	return value, nil
}

func (s *RedisStore) SetLastViewed(ctx context.Context, clientID, documentID string) error {
	if err := s.client.Set(ctx, s.key(clientID, "last-viewed"), documentID, 0).Err(); err != nil {
		return fmt.Errorf("write last-viewed: %w", err)
	}
	return nil
}

func (s *RedisStore) PendingDraft(ctx context.Context, clientID string) (Draft, bool, error) {
	raw, err := s.client.Get(ctx, s.key(clientID, "draft")).Result()
	if errors.Is(err, redis.Nil) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("read draft: %w", err)
	}
	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return Draft{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return draft, true, nil
}

func (s *RedisStore) SavePendingDraft(ctx context.Context, clientID string, draft Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(clientID, "draft"), raw, 0).Err(); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearPendingDraft(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, s.key(clientID, "draft")).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentShares(ctx context.Context, clientID string) ([]ShareEntry, error) {
	raw, err := s.client.Get(ctx, s.key(clientID, "recent-shares")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent shares: %w", err)
	}
	var list []ShareEntry
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode recent shares: %w", err)
	}
	return list, nil
}

func (s *RedisStore) TouchRecentShare(ctx context.Context, clientID string, entry ShareEntry) error {
	list, err := s.RecentShares(ctx, clientID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(touchShares(list, entry))
	if err != nil {
		return fmt.Errorf("encode recent shares: %w", err)
	}
	if err := s.client.Set(ctx, s.key(clientID, "recent-shares"), raw, 0).Err(); err != nil {
		return fmt.Errorf("write recent shares: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
