package plan

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plan_store/internal/consistenthash"
	"plan_store/internal/kvstore"
	"plan_store/internal/schema"
)

func newTestService(t *testing.T) (*Service, kvstore.Store) {
	t.Helper()
	validator, err := schema.NewPlanValidator()
	require.NoError(t, err)
	store := kvstore.NewInMemDataStore()
	return NewService(store, validator, consistenthash.NewDefaultRingLocker(8), "plan", zerolog.Nop()), store
}

const minimalPlan = `{"objectType": "plan", "objectId": "abc", "price": 10}`

func TestServiceCreate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, etag, err := svc.Create(ctx, decodeDoc(t, minimalPlan))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	want, err := ETag(decodeDoc(t, minimalPlan))
	require.NoError(t, err)
	assert.Equal(t, want, etag)

	stored, err := store.HGet(ctx, "plan_abc", ETagField)
	require.NoError(t, err)
	assert.Equal(t, etag, stored)

	_, _, err = svc.Create(ctx, decodeDoc(t, minimalPlan))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestServiceCreateRejects(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidBody)

	_, _, err = svc.Create(ctx, decodeDoc(t, `{"objectType": "plan", "objectId": "abc", "price": "ten"}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Violations)

	_, _, err = svc.Create(ctx, decodeDoc(t, `{"objectType": "service", "objectId": "abc"}`))
	var mismatch *IdentityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "objectType", mismatch.Field)

	_, _, err = svc.Create(ctx, decodeDoc(t, `{"objectType": "plan", "objectId": "abc", "@v": "2"}`))
	assert.ErrorIs(t, err, ErrReservedField)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestServiceGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "abc", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, etag, err := svc.Create(ctx, decodeDoc(t, fullPlanWithID("abc")))
	require.NoError(t, err)

	res, err := svc.Get(ctx, "abc", "")
	require.NoError(t, err)
	assert.False(t, res.NotModified)
	assert.Equal(t, etag, res.ETag)
	assert.Equal(t, decodeDoc(t, fullPlanWithID("abc")), res.Document)

	res, err = svc.Get(ctx, "abc", etag)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Nil(t, res.Document)

	res, err = svc.Get(ctx, "abc", "stale")
	require.NoError(t, err)
	assert.False(t, res.NotModified)
	assert.NotNil(t, res.Document)
}

func TestServiceDelete(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, "abc", "x"), ErrNotFound)

	_, etag, err := svc.Create(ctx, decodeDoc(t, fullPlanWithID("abc")))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "abc", ""), ErrETagRequired)

	err = svc.Delete(ctx, "abc", "stale")
	var pre *PreconditionFailedError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, etag, pre.ETag)

	require.NoError(t, svc.Delete(ctx, "abc", etag))

	keys, err := store.Keys(ctx, "plan_abc")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = svc.Get(ctx, "abc", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceReplace(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Replace(ctx, "abc", decodeDoc(t, minimalPlan), "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, etag, err := svc.Create(ctx, decodeDoc(t, fullPlanWithID("abc")))
	require.NoError(t, err)

	_, err = svc.Replace(ctx, "abc", nil, etag)
	assert.ErrorIs(t, err, ErrInvalidBody)

	_, err = svc.Replace(ctx, "abc", decodeDoc(t, minimalPlan), "")
	assert.ErrorIs(t, err, ErrETagRequired)

	_, err = svc.Replace(ctx, "abc", decodeDoc(t, minimalPlan), "stale")
	var pre *PreconditionFailedError
	assert.ErrorAs(t, err, &pre)

	_, err = svc.Replace(ctx, "abc", decodeDoc(t, `{"objectType": "plan", "objectId": "other"}`), etag)
	var mismatch *IdentityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "objectId", mismatch.Field)

	res, err := svc.Replace(ctx, "abc", decodeDoc(t, minimalPlan), etag)
	require.NoError(t, err)
	assert.NotEqual(t, etag, res.ETag)
	assert.Equal(t, decodeDoc(t, minimalPlan), res.Document)

	// the old subtree is gone
	keys, err := store.Keys(ctx, "plan_abc_")
	require.NoError(t, err)
	assert.Empty(t, keys)

	got, err := svc.Get(ctx, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, res.ETag, got.ETag)
}

func TestServiceReplaceInvalidLeavesDocument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, etag, err := svc.Create(ctx, decodeDoc(t, minimalPlan))
	require.NoError(t, err)

	_, err = svc.Replace(ctx, "abc", decodeDoc(t, `{"objectType": "plan", "objectId": "abc", "price": "ten"}`), etag)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := svc.Get(ctx, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, etag, got.ETag)
	assert.Equal(t, decodeDoc(t, minimalPlan), got.Document)
}

func TestServiceConcurrentCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	doc := decodeDoc(t, minimalPlan)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Create(ctx, doc); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func fullPlanWithID(id string) string {
	doc := `{
		"planCostShares": {
			"deductible": 2000, "_org": "example.com", "copay": 23,
			"objectId": "1234vxc2324sdf-501", "objectType": "membercostshare"
		},
		"linkedPlanServices": [{
			"linkedService": {
				"_org": "example.com", "objectId": "1234520xvc30asdf-502",
				"objectType": "service", "name": "Yearly physical"
			},
			"planserviceCostShares": {
				"deductible": 10, "_org": "example.com", "copay": 0,
				"objectId": "1234512xvc1314asdfs-503", "objectType": "membercostshare"
			},
			"_org": "example.com", "objectId": "27283xvx9asdff-504", "objectType": "planservice"
		}],
		"_org": "example.com",
		"objectType": "plan",
		"planType": "inNetwork",
		"creationDate": "12-12-2017",
		"objectId": "` + id + `"
	}`
	return doc
}

type acceptAll struct{}

func (acceptAll) Validate(any) ([]schema.Violation, error) { return nil, nil }

func TestServiceKeepsDocumentsApart(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	intruder := `{"objectType": "plan", "objectId": "abc_planCostShares", "price": 1}`

	_, _, err := svc.Create(ctx, decodeDoc(t, intruder))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// a schema without the objectId pattern still cannot place a root there
	lax := NewService(store, acceptAll{}, consistenthash.NewDefaultRingLocker(8), "plan", zerolog.Nop())
	_, _, err = lax.Create(ctx, decodeDoc(t, intruder))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, etag, err := svc.Create(ctx, decodeDoc(t, fullPlanWithID("abc")))
	require.NoError(t, err)

	for _, id := range []string{"abc_planCostShares", "abc_linkedPlanServices", "_"} {
		_, err = svc.Get(ctx, id, "")
		assert.ErrorIs(t, err, ErrNotFound, id)
		assert.ErrorIs(t, svc.Delete(ctx, id, etag), ErrNotFound, id)
		_, err = svc.Replace(ctx, id, decodeDoc(t, minimalPlan), etag)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}

	res, err := svc.Get(ctx, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, etag, res.ETag)
	assert.Equal(t, decodeDoc(t, fullPlanWithID("abc")), res.Document)
}
