package kvstore

import (
	"context"
	"strings"
	"sync"
)

type InMemDataStore struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
}

func NewInMemDataStore() *InMemDataStore {
	return &InMemDataStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (d *InMemDataStore) HSet(_ context.Context, key string, fields map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, isSet := d.sets[key]; isSet {
		return ErrWrongType
	}
	if len(fields) == 0 {
		return nil
	}

	hash, exists := d.hashes[key]
	if !exists {
		hash = make(map[string]string, len(fields))
		d.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}
	return nil
}

func (d *InMemDataStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, isSet := d.sets[key]; isSet {
		return nil, ErrWrongType
	}

	out := make(map[string]string, len(d.hashes[key]))
	for field, value := range d.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (d *InMemDataStore) HGet(_ context.Context, key, field string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, isSet := d.sets[key]; isSet {
		return "", ErrWrongType
	}
	if value, exists := d.hashes[key][field]; exists {
		return value, nil
	}
	return "", ErrNotFound
}

func (d *InMemDataStore) SAdd(_ context.Context, key string, members ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, isHash := d.hashes[key]; isHash {
		return ErrWrongType
	}
	if len(members) == 0 {
		return nil
	}

	set, exists := d.sets[key]
	if !exists {
		set = make(map[string]struct{}, len(members))
		d.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (d *InMemDataStore) SMembers(_ context.Context, key string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, isHash := d.hashes[key]; isHash {
		return nil, ErrWrongType
	}

	members := make([]string, 0, len(d.sets[key]))
	for m := range d.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (d *InMemDataStore) Exists(_ context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, isHash := d.hashes[key]
	_, isSet := d.sets[key]
	return isHash || isSet, nil
}

func (d *InMemDataStore) Del(_ context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range keys {
		delete(d.hashes, key)
		delete(d.sets, key)
	}
	return nil
}

func (d *InMemDataStore) Type(_ context.Context, key string) (KeyType, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, isHash := d.hashes[key]; isHash {
		return TypeHash, nil
	}
	if _, isSet := d.sets[key]; isSet {
		return TypeSet, nil
	}
	return TypeNone, nil
}

func (d *InMemDataStore) Keys(_ context.Context, prefix string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var keys []string
	for key := range d.hashes {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key := range d.sets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (d *InMemDataStore) Ping(context.Context) error {
	return nil
}

func (d *InMemDataStore) Close() error {
	// nothing
	return nil
}
