package testutil

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs_Deterministic(t *testing.T) {
	a := NewSequentialIDs()
	b := NewSequentialIDs()

	assert.Equal(t, "00000000-0000-7000-8000-000000000001", a.Generate())
	assert.Equal(t, "00000000-0000-7000-8000-000000000002", a.Generate())
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", b.Generate())
}

func TestSequentialIDs_AreUUIDs(t *testing.T) {
	g := NewSequentialIDs()
	for i := 0; i < 20; i++ {
		id := g.Generate()
		assert.Len(t, id, 36)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	}
}

func TestSequentialIDs_ConcurrentUnique(t *testing.T) {
	g := NewSequentialIDs()
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
}
