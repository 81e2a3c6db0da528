package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

type fakeStore struct {
	memories  []Memory
	listErr   error
	deleteErr error
	deletes   int
}

func (f *fakeStore) ListMemories(context.Context, string) ([]Memory, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.memories, nil
}

func (f *fakeStore) DeleteAllMemories(context.Context, string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.memories = nil
	return nil
}

func TestListReplacesCache(t *testing.T) {
	store := &fakeStore{memories: []Memory{
		{ID: "m1", Memory: "Lives in Lyon", CreatedAt: time.Now()},
		{ID: "m2", Memory: "Prefers concise answers", CreatedAt: time.Now()},
	}}
	c := NewSyncClient(store, auth.StaticTokenSource("tok"))
	assert.False(t, c.Loaded())

	memories, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, memories, 2)
	assert.Len(t, c.Cached(), 2)
	assert.True(t, c.Loaded())
}

func TestListEmptyIsValid(t *testing.T) {
	c := NewSyncClient(&fakeStore{}, auth.StaticTokenSource("tok"))
	memories, err := c.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, memories)
	assert.Empty(t, memories)
}

func TestListFailureKeepsCache(t *testing.T) {
	store := &fakeStore{memories: []Memory{{ID: "m1", Memory: "likes tea"}}}
	c := NewSyncClient(store, auth.StaticTokenSource("tok"))
	_, err := c.List(context.Background())
	require.NoError(t, err)

	store.listErr = errors.New("503")
	_, err = c.List(context.Background())
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
	assert.Len(t, c.Cached(), 1)
}

func TestDeleteAllOnEmpty(t *testing.T) {
	store := &fakeStore{}
	c := NewSyncClient(store, auth.StaticTokenSource("tok"))

	require.NoError(t, c.DeleteAll(context.Background()))
	assert.Empty(t, c.Cached())

	memories, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestDeleteAllFailureKeepsCache(t *testing.T) {
	store := &fakeStore{memories: []Memory{{ID: "m1"}}}
	c := NewSyncClient(store, auth.StaticTokenSource("tok"))
	_, err := c.List(context.Background())
	require.NoError(t, err)

	store.deleteErr = errors.New("boom")
	err = c.DeleteAll(context.Background())
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
	assert.Len(t, c.Cached(), 1)

	store.deleteErr = nil
	require.NoError(t, c.DeleteAll(context.Background()))
	assert.Empty(t, c.Cached())
}

func TestUnauthenticated(t *testing.T) {
	store := &fakeStore{}
	c := NewSyncClient(store, auth.StaticTokenSource(""))
	_, err := c.List(context.Background())
	assert.True(t, errors.Is(err, chaterrors.ErrUnauthenticated))
	assert.True(t, errors.Is(c.DeleteAll(context.Background()), chaterrors.ErrUnauthenticated))
	assert.Equal(t, 0, store.deletes)
}
