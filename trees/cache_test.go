package trees

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Invariant 6 / §4.7's three-case protocol: generation match returns the
// shared cache; a newer generation replaces it; an older (stale-snapshot)
// generation gets a private cache that never clobbers the shared one.
func TestCachesThreeCaseProtocol(t *testing.T) {
	c := NewCaches()

	g0 := c.GetCache("ix", 0, FlavorLRU, 8)
	require.Equal(t, uint64(0), g0.Generation())

	// Same generation again: identical shared cache, so a write through one
	// handle is visible through the other.
	g0again := c.GetCache("ix", 0, FlavorLRU, 8)
	require.Same(t, g0, g0again)
	g0.Put(NodeID(1), &Node{ID: 1})
	loaded, loadErr := g0again.GetOrLoad(NodeID(1), func() (*Node, error) {
		t.Fatal("should have hit the shared cache, not called load")
		return nil, nil
	})
	require.NoError(t, loadErr)
	require.Equal(t, NodeID(1), loaded.ID)

	// A newer generation replaces the shared cache.
	g1 := c.GetCache("ix", 1, FlavorLRU, 8)
	require.NotSame(t, g0, g1)
	require.Equal(t, uint64(1), g1.Generation())
	g1again := c.GetCache("ix", 1, FlavorLRU, 8)
	require.Same(t, g1, g1again)

	// An older generation (stale snapshot reader) gets a private, empty
	// cache that is never installed as the shared one.
	gStale := c.GetCache("ix", 0, FlavorLRU, 8)
	require.NotSame(t, g0, gStale)
	require.Equal(t, uint64(0), gStale.Generation())
	_, found := gStale.body.get(NodeID(1))
	require.False(t, found, "private stale cache must start empty, not inherit g0's contents")

	stillShared := c.GetCache("ix", 1, FlavorLRU, 8)
	require.Same(t, g1, stillShared, "opening a stale snapshot must not clobber the shared cache")
}

// GetOrLoad must call its loader at most once under concurrent misses on
// the same id; every other concurrent caller waits for and observes the
// same result ("guard/insert pattern", §4.7).
func TestCacheGetOrLoadDeduplicatesConcurrentMisses(t *testing.T) {
	c := newCache(0, FlavorLRU, 8)
	const n = 32

	loadCount := make(chan struct{}, n)
	results := make(chan *Node, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			<-start
			node, err := c.GetOrLoad(NodeID(7), func() (*Node, error) {
				loadCount <- struct{}{}
				return &Node{ID: 7}, nil
			})
			require.NoError(t, err)
			results <- node
		}()
	}
	close(start)

	first := <-results
	for i := 1; i < n; i++ {
		require.Same(t, first, <-results)
	}
	close(loadCount)
	calls := 0
	for range loadCount {
		calls++
	}
	require.Equal(t, 1, calls)
}
