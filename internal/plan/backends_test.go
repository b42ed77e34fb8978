package plan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plan_store/internal/kvstore"
)

func engineBackends() map[string]func(t *testing.T) kvstore.Store {
	return map[string]func(t *testing.T) kvstore.Store{
		kvstore.BackendMemory: func(t *testing.T) kvstore.Store {
			return kvstore.NewInMemDataStore()
		},
		kvstore.BackendLevelDB: func(t *testing.T) kvstore.Store {
			store, err := kvstore.NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
		kvstore.BackendRedis: func(t *testing.T) kvstore.Store {
			mr := miniredis.RunT(t)
			store := kvstore.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestEngineOnBackends(t *testing.T) {
	ctx := context.Background()

	for backend, newStore := range engineBackends() {
		t.Run(backend, func(t *testing.T) {
			for name, raw := range roundTripCases {
				t.Run(name, func(t *testing.T) {
					store := newStore(t)
					engine := NewEngine(store, zerolog.Nop())

					want := decodeDoc(t, raw)
					rootKey, err := engine.Flatten(ctx, want)
					require.NoError(t, err)
					require.NoError(t, engine.StoreETag(ctx, rootKey, "e"))

					got, err := engine.Reconstruct(ctx, rootKey)
					require.NoError(t, err)
					delete(got, ETagField)
					assert.Equal(t, want, got)

					require.NoError(t, engine.Delete(ctx, rootKey))
					keys, err := store.Keys(ctx, rootKey)
					require.NoError(t, err)
					assert.Empty(t, keys)
				})
			}
		})
	}
}
