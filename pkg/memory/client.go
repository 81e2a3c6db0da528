// Package memory keeps a local copy of the user's long-term memories.
//
// The cache is stale-but-consistent: it only changes when a backend call
// succeeds.
package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

type Memory = backend.Memory

type SyncClient struct {
	store  backend.MemoryStore
	tokens auth.TokenSource

	mu     sync.RWMutex
	cache  []Memory
	loaded bool
}

func NewSyncClient(store backend.MemoryStore, tokens auth.TokenSource) *SyncClient {
	return &SyncClient{
		store:  store,
		tokens: tokens,
		cache:  []Memory{},
	}
}

// List fetches every memory and replaces the cache. An empty list is a
// valid result.
func (c *SyncClient) List(ctx context.Context) ([]Memory, error) {
	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return nil, err
	}

	memories, err := c.store.ListMemories(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("could not list memories, keeping cache")
		return nil, chaterrors.Wrap(chaterrors.KindUpstreamFailure, "memory.List", err)
	}
	if memories == nil {
		memories = []Memory{}
	}

	c.mu.Lock()
	c.cache = append([]Memory{}, memories...)
	c.loaded = true
	c.mu.Unlock()

	log.Debug().Int("count", len(memories)).Msg("loaded memories")
	return append([]Memory{}, memories...), nil
}

// DeleteAll irreversibly deletes every memory. Confirming with the user is
// the caller's job.
func (c *SyncClient) DeleteAll(ctx context.Context) error {
	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return err
	}

	if err := c.store.DeleteAllMemories(ctx, token); err != nil {
		log.Warn().Err(err).Msg("could not delete memories, keeping cache")
		return chaterrors.Wrap(chaterrors.KindUpstreamFailure, "memory.DeleteAll", err)
	}

	c.mu.Lock()
	c.cache = []Memory{}
	c.loaded = true
	c.mu.Unlock()

	log.Info().Msg("deleted all memories")
	return nil
}

func (c *SyncClient) Cached() []Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Memory{}, c.cache...)
}

// Loaded reports whether the cache reflects at least one successful call.
func (c *SyncClient) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
