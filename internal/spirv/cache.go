// Package spirv compiles pre-processed WGSL to SPIR-V words and caches
// the results by source.
package spirv

import (
	"container/list"
	"crypto/sha256"
	"sync"
	"sync/atomic"
)

const (
	shardCount = 8
	shardMask  = shardCount - 1

	// DefaultCapacity is the per-shard module capacity.
	DefaultCapacity = 32
)

// Key identifies a source by its SHA-256 digest.
type Key [sha256.Size]byte

// KeyOf returns the key of src.
func KeyOf(src string) Key { return sha256.Sum256([]byte(src)) }

// Stats reports cache usage.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry struct {
	key   Key
	words []uint32
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*list.Element
	lru     list.List
}

// Cache is a sharded LRU of compiled modules. The zero value is not
// usable; call NewCache.
type Cache struct {
	shards   [shardCount]shard
	capacity int
	compile  func(string) ([]uint32, error)

	hits, misses, evictions atomic.Uint64
}

// NewCache returns a cache holding up to capacity modules per shard that
// compiles misses with compile. Capacity <= 0 means DefaultCapacity; a
// nil compile means Compile.
func NewCache(capacity int, compile func(string) ([]uint32, error)) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if compile == nil {
		compile = Compile
	}
	c := &Cache{capacity: capacity, compile: compile}
	for i := range c.shards {
		c.shards[i].entries = make(map[Key]*list.Element)
	}
	return c
}

func (c *Cache) shard(k Key) *shard { return &c.shards[k[0]&shardMask] }

// Get returns the SPIR-V of src, compiling it on a miss. Failed
// compilations are not cached. The returned slice must not be modified.
func (c *Cache) Get(src string) ([]uint32, error) {
	k := KeyOf(src)
	s := c.shard(k)

	s.mu.Lock()
	if el, ok := s.entries[k]; ok {
		s.lru.MoveToFront(el)
		words := el.Value.(*entry).words
		s.mu.Unlock()
		c.hits.Add(1)
		return words, nil
	}
	s.mu.Unlock()
	c.misses.Add(1)

	// Compile outside the lock; a concurrent miss on the same source
	// compiles twice and the second insert wins.
	words, err := c.compile(src)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[k]; ok {
		el.Value.(*entry).words = words
		s.lru.MoveToFront(el)
		return words, nil
	}
	for s.lru.Len() >= c.capacity {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
		c.evictions.Add(1)
	}
	s.entries[k] = s.lru.PushFront(&entry{key: k, words: words})
	return words, nil
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Clear drops every cached module. Statistics are kept.
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.lru.Init()
		s.mu.Unlock()
	}
}

// Stats returns the current statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
