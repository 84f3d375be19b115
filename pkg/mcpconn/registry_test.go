package mcpconn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRegistryTokensAreUnique(t *testing.T) {
	t.Parallel()

	reg := newTokenRegistry[int]("tok")
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok := reg.NextToken()
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %q", tok)
		seen[tok] = struct{}{}
	}
}

func TestTokenRegistryTokensAreUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	reg := newTokenRegistry[int]("tok")
	const workers = 8
	const perWorker = 250

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tok := reg.NextToken()
				mu.Lock()
				seen[tok] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

func TestTokenRegistryTakeIsAtMostOnce(t *testing.T) {
	t.Parallel()

	reg := newTokenRegistry[string]("tok")
	reg.Put("a", "value")

	v, ok := reg.Take("a")
	require.True(t, ok)
	require.Equal(t, "value", v)

	_, ok = reg.Take("a")
	require.False(t, ok)
}

func TestTokenRegistryDrainAndClear(t *testing.T) {
	t.Parallel()

	reg := newTokenRegistry[int]("tok")
	reg.Put("a", 1)
	reg.Put("b", 2)
	require.Equal(t, 2, reg.Len())

	values := reg.Drain()
	require.ElementsMatch(t, []int{1, 2}, values)
	require.Equal(t, 0, reg.Len())

	reg.Put("c", 3)
	reg.Clear()
	require.Equal(t, 0, reg.Len())
}
