package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash"

	"plan_store/internal/kvstore"
)

// ETag fingerprints doc. encoding/json sorts map keys, so equal documents
// always hash the same.
func ETag(doc any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("plan: etag: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(raw)), nil
}

// StoreETag records etag in the root field map.
func (e *Engine) StoreETag(ctx context.Context, rootKey, etag string) error {
	return e.store.HSet(ctx, rootKey, map[string]string{ETagField: etag})
}

// LoadETag returns the stored ETag, or "" when none is recorded.
func (e *Engine) LoadETag(ctx context.Context, rootKey string) (string, error) {
	etag, err := e.store.HGet(ctx, rootKey, ETagField)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	return etag, err
}

// Exists reports whether a document is stored under rootKey.
func (e *Engine) Exists(ctx context.Context, rootKey string) (bool, error) {
	return e.store.Exists(ctx, rootKey)
}
