package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	_, ok := s.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())

	s.Put("a", "first")
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "first", v)

	// only the latest proposed value is kept
	s.Put("a", "second")
	v, _ = s.Get("a")
	require.Equal(t, "second", v)
	require.Equal(t, 1, s.Len())

	s.Put("b", "other")
	require.Equal(t, 2, s.Len())
}

func TestMemStoreConcurrent(t *testing.T) {
	s := NewMemStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Put("a", "v")
				s.Get("a")
			}
		}()
	}
	wg.Wait()
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
