package kvstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by HGet when the key or the field does not exist.
	ErrNotFound = errors.New("kvstore: not found")

	// ErrWrongType is returned when a hash operation targets a set or a set
	// operation targets a hash.
	ErrWrongType = errors.New("kvstore: operation against a key holding the wrong kind of value")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("kvstore: unknown backend")
)

// KeyType is the structural type of a stored key.
type KeyType string

const (
	TypeNone KeyType = "none"
	TypeHash KeyType = "hash"
	TypeSet  KeyType = "set"
)

// Store is the set of primitive operations the plan engine needs from a
// key-value backend. Field maps (hashes) hold scalar strings, sets hold
// member strings. Missing keys read as empty.
type Store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGet(ctx context.Context, key, field string) (string, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Type(ctx context.Context, key string) (KeyType, error)
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string
	LevelDBPath string
	RedisURL    string
	Dynamo      DynamoConfig
}

// DynamoConfig holds the DynamoDB backend settings.
type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string
}

// Open connects to the backend named in cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewInMemDataStore(), nil
	case BackendLevelDB:
		return NewLevelDBStore(cfg.LevelDBPath)
	case BackendRedis:
		return NewRedisStoreFromURL(ctx, cfg.RedisURL)
	case BackendDynamoDB:
		return NewDynamoStoreFromConfig(ctx, cfg.Dynamo)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
