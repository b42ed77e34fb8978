package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already configured client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL, connects and pings.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStore(client), nil
}

func mapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return ErrWrongType
	}
	return err
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for field, value := range fields {
		values[field] = value
	}
	if err := r.client.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, mapRedisErr(err))
	}
	return nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, mapRedisErr(err))
	}
	return fields, nil
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		err = mapRedisErr(err)
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	values := make([]any, len(members))
	for i, m := range members {
		values[i] = m
	}
	if err := r.client.SAdd(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, mapRedisErr(err))
	}
	return nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, mapRedisErr(err))
	}
	return members, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (r *RedisStore) Type(ctx context.Context, key string) (KeyType, error) {
	kt, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return TypeNone, fmt.Errorf("failed to read type of key %s: %w", key, err)
	}
	return KeyType(kt), nil
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
