package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Joseda-hg/notegrid/internal/model"
)

type RedisConfig struct {
	Address  string
	Password string
	Database int
	// Prefix namespaces every key, so several profiles can share one server.
	Prefix string
}

// RedisStore offers the same key-value and sync log surface as Store on top
// of a Redis server.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	LogLimit int
	now      func() time.Time
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "notegrid:"
	}

	return &RedisStore{client: client, prefix: prefix, LogLimit: DefaultSyncLogLimit, now: time.Now}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) AppendSyncLog(ctx context.Context, kind, detail string) (model.SyncLogEntry, error) {
	id, err := s.client.Incr(ctx, s.prefix+"sync_log:seq").Result()
	if err != nil {
		return model.SyncLogEntry{}, err
	}

	entry := model.SyncLogEntry{
		ID:        id,
		Kind:      normalizeKind(kind),
		Detail:    strings.TrimSpace(detail),
		CreatedAt: time.UnixMilli(s.now().UnixMilli()),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return model.SyncLogEntry{}, err
	}

	listKey := s.prefix + "sync_log"
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, listKey, payload)
	if s.LogLimit > 0 {
		pipe.LTrim(ctx, listKey, 0, int64(s.LogLimit-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.SyncLogEntry{}, err
	}
	return entry, nil
}

// ListSyncLog returns up to limit entries, newest first.
func (s *RedisStore) ListSyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = DefaultSyncLogLimit
	}

	values, err := s.client.LRange(ctx, s.prefix+"sync_log", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.SyncLogEntry, 0, len(values))
	for _, value := range values {
		var entry model.SyncLogEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
