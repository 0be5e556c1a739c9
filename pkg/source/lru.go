package source

import (
	"container/list"
	"sync"
)

// lruEntry holds a key-value pair for the LRU cache.
type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// lruCache is a thread-safe, bounded LRU cache with O(1) operations. A
// doubly-linked list keeps recency order and a map gives fast lookups; when
// the cache reaches capacity, the least recently used entry is evicted on Put.
//
// Get moves the accessed node to the front, so a plain Mutex is used rather
// than an RWMutex.
type lruCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	list     *list.List
	items    map[K]*list.Element
}

// newLRUCache creates a bounded LRU cache. The capacity must be positive.
func newLRUCache[K comparable, V any](capacity int) *lruCache[K, V] {
	if capacity <= 0 {
		panic("lruCache capacity must be > 0")
	}
	return &lruCache[K, V]{
		capacity: capacity,
		list:     list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
}

// Get retrieves a value by key, marking it most recently used.
func (c *lruCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, exists := c.items[key]
	if !exists {
		var zero V
		return zero, false
	}
	c.list.MoveToFront(node)
	return node.Value.(*lruEntry[K, V]).value, true
}

// Put adds or updates a key-value pair, evicting the least recently used
// entry when a new key would exceed capacity.
func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, exists := c.items[key]; exists {
		node.Value.(*lruEntry[K, V]).value = value
		c.list.MoveToFront(node)
		return
	}

	if c.list.Len() >= c.capacity {
		oldest := c.list.Back()
		if oldest != nil {
			c.list.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry[K, V]).key)
		}
	}
	c.items[key] = c.list.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// Len returns the number of cached entries.
func (c *lruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
