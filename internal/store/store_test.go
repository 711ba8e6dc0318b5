package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionbroker/internal/admission"
)

func newTestStore() *Store {
	return New(nil, admission.NewRegistry(func(name string) admission.BreakerConfig {
		return admission.DefaultBreakerConfig(admission.IsTransientError)
	}))
}

func TestPutGetFallbackOnly(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	rec := Record{ID: "s1", Owner: "client-a", Payload: []byte(`{"status":"running"}`)}
	require.NoError(t, s.Put(ctx, rec))

	got, ok := s.Get(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, rec.Owner, got.Owner)
}

func TestDeleteRemovesFromAllTiers(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	rec := Record{ID: "s2", Owner: "client-b"}
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Delete(ctx, "s2"))

	_, ok := s.Get(ctx, "s2")
	assert.False(t, ok)
}

func TestListByOwnerDedupes(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{ID: "a", Owner: "owner-1"}))
	require.NoError(t, s.Put(ctx, Record{ID: "b", Owner: "owner-1"}))
	require.NoError(t, s.Put(ctx, Record{ID: "c", Owner: "owner-2"}))

	list := s.ListByOwner(ctx, "owner-1")
	assert.Len(t, list, 2)
}

func TestListByOwnerEmptyMatchesEverything(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{ID: "a", Owner: "owner-1"}))
	require.NoError(t, s.Put(ctx, Record{ID: "b", Owner: "owner-2"}))

	list := s.ListByOwner(ctx, "")
	assert.Len(t, list, 2)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{ID: "x", Owner: "o"}))
	require.NoError(t, s.Delete(ctx, "x"))
	require.NoError(t, s.Delete(ctx, "x"))
}
