package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

func TestMemoryStore(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository {
		return NewMemoryStore(filter.NewEngine())
	})
}

func TestMemoryStore_ConcurrentCreateSameName(t *testing.T) {
	repo := NewMemoryStore(filter.NewEngine())
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Create(ctx, "acme", newUser("racer")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	_, total, err := repo.List(ctx, "acme", scim.ResourceUser, ListQuery{StartIndex: 1, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
