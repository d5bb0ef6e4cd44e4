package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct{ key string }

func TestCacheLifecycle(t *testing.T) {
	c := New[*doc]()

	_, ok := c.Get("User", "a")
	require.False(t, ok)

	a := &doc{key: "a"}
	c.Put("User", "a", a)
	got, ok := c.Get("User", "a")
	require.True(t, ok)
	require.Same(t, a, got)

	// Same key in another class is a different entry.
	_, ok = c.Get("Post", "a")
	require.False(t, ok)

	require.True(t, c.Evict("User", "a"))
	require.False(t, c.Evict("User", "a"))
	require.Equal(t, 0, c.Len(""))
}

func TestCachePutIfAbsent(t *testing.T) {
	c := New[*doc]()
	first := &doc{key: "k"}
	second := &doc{key: "k"}

	winner, stored := c.PutIfAbsent("User", "k", first)
	require.True(t, stored)
	require.Same(t, first, winner)

	winner, stored = c.PutIfAbsent("User", "k", second)
	require.False(t, stored)
	require.Same(t, first, winner)
}

func TestCacheClear(t *testing.T) {
	c := New[int]()
	c.Put("User", "a", 1)
	c.Put("User", "b", 2)
	c.Put("Post", "a", 3)

	require.Equal(t, 2, c.Len("User"))
	c.Clear("User")
	require.Equal(t, 0, c.Len("User"))
	require.Equal(t, 1, c.Len(""))
	c.Clear("")
	require.Equal(t, 0, c.Len(""))
}

func TestCacheConcurrentSingleWinner(t *testing.T) {
	c := New[*doc]()
	const workers = 32

	var wg sync.WaitGroup
	winners := make([]*doc, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winners[i], _ = c.PutIfAbsent("User", "shared", &doc{key: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		require.Same(t, winners[0], w)
	}
	require.Equal(t, 1, c.Len("User"))
}
