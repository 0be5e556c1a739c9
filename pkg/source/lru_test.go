package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheBasics(t *testing.T) {
	c := newLRUCache[string, uint64](2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	c.Put("b", 2)
	assert.Equal(t, 2, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
}

func TestLRUCacheEviction(t *testing.T) {
	c := newLRUCache[string, uint64](2)
	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should have been evicted")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	v, ok = c.Get("c")
	require.True(t, ok)
	assert.Equal(t, uint64(3), v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := newLRUCache[string, uint64](2)
	c.Put("a", 1)
	c.Put("a", 9)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(9), v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCacheZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { newLRUCache[string, uint64](0) })
}
