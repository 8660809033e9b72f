// Package tilecache holds decoded tiles bounded by the number of bytes they occupy.
package tilecache

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Sized is implemented by cached values able to report their footprint in bytes.
type Sized interface {
	Size() int
}

// LRU is a least-recently-used cache whose capacity is a number of bytes rather than a number
// of entries. It is not safe for concurrent use; owners hold their own lock around each call.
type LRU[K comparable, V Sized] struct {
	entries  *simplelru.LRU[K, V]
	size     int
	capacity int
}

// New creates a cache holding at most capacity bytes. A capacity of zero caches nothing.
func New[K comparable, V Sized](capacity int) *LRU[K, V] {
	c := &LRU[K, V]{capacity: max(capacity, 0)}
	// entry count never limits the cache, only the byte total does
	entries, err := simplelru.NewLRU[K, V](math.MaxInt, func(key K, value V) {
		c.size -= value.Size()
	})
	if err != nil {
		panic(err)
	}
	c.entries = entries
	return c
}

// Get returns the value stored for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

// Set stores value under key, evicting least recently used entries until it fits. It returns
// false, leaving the cache untouched, when key is already present or the value alone is larger
// than the capacity.
func (c *LRU[K, V]) Set(key K, value V) bool {
	size := value.Size()
	if size > c.capacity || c.entries.Contains(key) {
		return false
	}
	c.shrink(c.capacity - size)
	c.entries.Add(key, value)
	c.size += size
	return true
}

// Resize changes the capacity. Shrinking evicts least recently used entries until the content
// fits; growing never evicts.
func (c *LRU[K, V]) Resize(capacity int) {
	c.capacity = max(capacity, 0)
	c.shrink(c.capacity)
}

// Clear drops every entry. The capacity is kept.
func (c *LRU[K, V]) Clear() {
	c.entries.Purge()
	c.size = 0
}

func (c *LRU[K, V]) Len() int {
	return c.entries.Len()
}

// Size is the number of bytes currently held.
func (c *LRU[K, V]) Size() int {
	return c.size
}

func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

func (c *LRU[K, V]) shrink(limit int) {
	for c.size > limit {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			return
		}
	}
}
