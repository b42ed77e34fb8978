package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	levelDb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB has a single flat keyspace, so every logical key is spread over
// prefixed records:
//
//	t\x00<key>                 -> "hash" | "set"
//	h\x00<key>\x00<field>      -> value
//	s\x00<key>\x00<member>     -> ""
const (
	sep        = "\x00"
	typePrefix = "t" + sep
	hashPrefix = "h" + sep
	setPrefix  = "s" + sep
)

var errInvalidKey = errors.New("kvstore: key must not contain NUL bytes")

type LevelDBStore struct {
	db   *levelDb.DB
	path string

	// serialises type check + write so a key never ends up both hash and set
	mu sync.Mutex
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := levelDb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBStore{
		db:   db,
		path: path,
	}, nil
}

func checkKey(key string) error {
	if strings.Contains(key, sep) {
		return errInvalidKey
	}
	return nil
}

func (l *LevelDBStore) keyType(key string) (KeyType, error) {
	value, err := l.db.Get([]byte(typePrefix+key), nil)
	if err != nil {
		if err == levelDb.ErrNotFound {
			return TypeNone, nil
		}
		return TypeNone, fmt.Errorf("failed to read type of key %s: %w", key, err)
	}
	return KeyType(value), nil
}

func (l *LevelDBStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kt, err := l.keyType(key)
	if err != nil {
		return err
	}
	if kt == TypeSet {
		return ErrWrongType
	}

	batch := new(levelDb.Batch)
	batch.Put([]byte(typePrefix+key), []byte(TypeHash))
	for field, value := range fields {
		batch.Put([]byte(hashPrefix+key+sep+field), []byte(value))
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	kt, err := l.keyType(key)
	if err != nil {
		return nil, err
	}
	if kt == TypeSet {
		return nil, ErrWrongType
	}

	prefix := hashPrefix + key + sep
	response := map[string]string{}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		field := string(iter.Key()[len(prefix):])
		response[field] = string(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return response, nil
}

func (l *LevelDBStore) HGet(_ context.Context, key, field string) (string, error) {
	kt, err := l.keyType(key)
	if err != nil {
		return "", err
	}
	if kt == TypeSet {
		return "", ErrWrongType
	}

	value, err := l.db.Get([]byte(hashPrefix+key+sep+field), nil)
	if err != nil {
		if err == levelDb.ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return string(value), nil
}

func (l *LevelDBStore) SAdd(_ context.Context, key string, members ...string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kt, err := l.keyType(key)
	if err != nil {
		return err
	}
	if kt == TypeHash {
		return ErrWrongType
	}

	batch := new(levelDb.Batch)
	batch.Put([]byte(typePrefix+key), []byte(TypeSet))
	for _, m := range members {
		batch.Put([]byte(setPrefix+key+sep+m), nil)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) SMembers(_ context.Context, key string) ([]string, error) {
	kt, err := l.keyType(key)
	if err != nil {
		return nil, err
	}
	if kt == TypeHash {
		return nil, ErrWrongType
	}

	prefix := setPrefix + key + sep
	members := []string{}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		members = append(members, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return members, nil
}

func (l *LevelDBStore) Exists(_ context.Context, key string) (bool, error) {
	kt, err := l.keyType(key)
	if err != nil {
		return false, err
	}
	return kt != TypeNone, nil
}

func (l *LevelDBStore) Del(_ context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(levelDb.Batch)
	for _, key := range keys {
		batch.Delete([]byte(typePrefix + key))
		for _, prefix := range []string{hashPrefix, setPrefix} {
			iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix+key+sep)), nil)
			for iter.Next() {
				k := make([]byte, len(iter.Key()))
				copy(k, iter.Key())
				batch.Delete(k)
			}
			iter.Release()
			if err := iter.Error(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", key, err)
			}
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (l *LevelDBStore) Type(_ context.Context, key string) (KeyType, error) {
	return l.keyType(key)
}

func (l *LevelDBStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := l.db.NewIterator(util.BytesPrefix([]byte(typePrefix+prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(typePrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (l *LevelDBStore) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

func (l *LevelDBStore) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
