package kvstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		BackendMemory: func(t *testing.T) Store {
			return NewInMemDataStore()
		},
		BackendLevelDB: func(t *testing.T) Store {
			store, err := NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
		BackendRedis: func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			t.Cleanup(func() { store.Close() })
			return store
		},
		BackendDynamoDB: func(t *testing.T) Store {
			return NewDynamoStore(newFakeDynamo(), "plans")
		},
	}
}

func TestStoreBackends(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			runStoreSuite(t, factory)
		})
	}
}

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	// Test 1: field map write and read
	t.Run("HashWriteAndRead", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HSet(ctx, "plan_1", map[string]string{"a": "1", "b": "two"}))
		require.NoError(t, store.HSet(ctx, "plan_1", map[string]string{"b": "three"}))

		fields, err := store.HGetAll(ctx, "plan_1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "three"}, fields)

		value, err := store.HGet(ctx, "plan_1", "a")
		require.NoError(t, err)
		assert.Equal(t, "1", value)
	})

	// Test 2: missing keys read as empty, HGet reports not found
	t.Run("MissingKeys", func(t *testing.T) {
		store := newStore(t)

		fields, err := store.HGetAll(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, fields)

		members, err := store.SMembers(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, members)

		_, err = store.HGet(ctx, "nope", "etag")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.HSet(ctx, "there", map[string]string{"x": "y"}))
		_, err = store.HGet(ctx, "there", "etag")
		assert.ErrorIs(t, err, ErrNotFound)

		kt, err := store.Type(ctx, "nope")
		require.NoError(t, err)
		assert.Equal(t, TypeNone, kt)
	})

	// Test 3: set membership, duplicates collapse
	t.Run("SetMembers", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.SAdd(ctx, "plan_1_items", "a", "b"))
		require.NoError(t, store.SAdd(ctx, "plan_1_items", "b", "c"))

		members, err := store.SMembers(ctx, "plan_1_items")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, members)
	})

	// Test 4: structural types and existence
	t.Run("TypeAndExists", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HSet(ctx, "h", map[string]string{"f": "v"}))
		require.NoError(t, store.SAdd(ctx, "s", "m"))

		kt, err := store.Type(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, TypeHash, kt)

		kt, err = store.Type(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, TypeSet, kt)

		for _, key := range []string{"h", "s"} {
			ok, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok, key)
		}
		ok, err := store.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	// Test 5: mixing hash and set operations on one key fails
	t.Run("WrongType", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HSet(ctx, "h", map[string]string{"f": "v"}))
		require.NoError(t, store.SAdd(ctx, "s", "m"))

		assert.ErrorIs(t, store.SAdd(ctx, "h", "m"), ErrWrongType)
		assert.ErrorIs(t, store.HSet(ctx, "s", map[string]string{"f": "v"}), ErrWrongType)

		_, err := store.HGetAll(ctx, "s")
		assert.ErrorIs(t, err, ErrWrongType)
		_, err = store.SMembers(ctx, "h")
		assert.ErrorIs(t, err, ErrWrongType)
	})

	// Test 6: delete removes hashes and sets
	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HSet(ctx, "h", map[string]string{"f": "v", "g": "w"}))
		require.NoError(t, store.SAdd(ctx, "s", "m", "n"))
		require.NoError(t, store.Del(ctx, "h", "s", "never-existed"))

		for _, key := range []string{"h", "s"} {
			ok, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}

		// a deleted key can be reused with the other type
		require.NoError(t, store.SAdd(ctx, "h", "m"))
		members, err := store.SMembers(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, []string{"m"}, members)
	})

	// Test 7: prefix listing
	t.Run("KeysByPrefix", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HSet(ctx, "plan_a", map[string]string{"f": "v"}))
		require.NoError(t, store.SAdd(ctx, "plan_a_items", "plan_a_items_0"))
		require.NoError(t, store.HSet(ctx, "plan_b", map[string]string{"f": "v"}))
		require.NoError(t, store.HSet(ctx, "other", map[string]string{"f": "v"}))

		keys, err := store.Keys(ctx, "plan_a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"plan_a", "plan_a_items"}, keys)

		keys, err = store.Keys(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})
}

// Data survives a LevelDB restart
func TestLevelDBPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	// Create store, write, and close
	{
		store, err := NewLevelDBStore(path)
		require.NoError(t, err)
		require.NoError(t, store.HSet(ctx, "plan_1", map[string]string{"etag": "abc"}))
		require.NoError(t, store.SAdd(ctx, "plan_1_items", "plan_1_items_0"))
		require.NoError(t, store.Close())
	}

	// Reopen store and verify data is still there
	{
		store, err := NewLevelDBStore(path)
		require.NoError(t, err)
		defer store.Close()

		etag, err := store.HGet(ctx, "plan_1", "etag")
		require.NoError(t, err)
		assert.Equal(t, "abc", etag)

		members, err := store.SMembers(ctx, "plan_1_items")
		require.NoError(t, err)
		assert.Equal(t, []string{"plan_1_items_0"}, members)
	}
}

func TestLevelDBRejectsNulKeys(t *testing.T) {
	store, err := NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer store.Close()

	err = store.HSet(context.Background(), "bad\x00key", map[string]string{"f": "v"})
	assert.ErrorIs(t, err, errInvalidKey)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &InMemDataStore{}, store)
}

func TestOpenRedisFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open(context.Background(), Config{
		Backend:  BackendRedis,
		RedisURL: fmt.Sprintf("redis://%s/0", mr.Addr()),
	})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &RedisStore{}, store)
}

// Benchmark: field map write performance
func BenchmarkHSet(b *testing.B) {
	ctx := context.Background()
	store, _ := NewLevelDBStore(filepath.Join(b.TempDir(), "bench-db"))
	defer store.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("plan_%d", i)
		store.HSet(ctx, key, map[string]string{"objectId": key, "price": "10"})
	}
}

// Benchmark: field map read performance
func BenchmarkHGetAll(b *testing.B) {
	ctx := context.Background()
	store, _ := NewLevelDBStore(filepath.Join(b.TempDir(), "bench-db-read"))
	defer store.Close()

	// Pre-populate
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("plan_%d", i)
		store.HSet(ctx, key, map[string]string{"objectId": key, "price": "10"})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.HGetAll(ctx, fmt.Sprintf("plan_%d", i%1000))
	}
}
