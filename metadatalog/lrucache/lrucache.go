// Copyright 2026 The VexFS Authors
// This file is part of the VexFS core library.
//
// The VexFS core library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The VexFS core library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the VexFS core library. If not, see <http://www.gnu.org/licenses/>.

// Package lrucache implements the metadata subjournal's checksum-verified
// LRU cache, keyed by (target ID, entry kind). Entries live in a flat
// arena addressed by integer index with an intrusive doubly linked list
// threaded through the arena slots, the same pattern the transaction
// manager uses for its own arena, so there are no pointer-owned list
// nodes to leak.
package lrucache

import (
	"hash/crc32"
	"sync"

	"github.com/vexfs/vexfscore/vexerr"
)

// Key identifies a cached metadata entry.
type Key struct {
	TargetID uint64
	Kind     uint8
}

type entry struct {
	key      Key
	value    []byte
	checksum uint32
	prev     int
	next     int
	inUse    bool
}

const nilIdx = -1

// Cache is a fixed-capacity, checksum-verified LRU cache.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  []entry
	index    map[Key]int
	head     int // most recently used
	tail     int // least recently used
	free     []int

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache that holds at most capacity entries.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, vexerr.ErrInvalidArgument
	}
	return &Cache{
		capacity: capacity,
		entries:  make([]entry, 0, capacity),
		index:    make(map[Key]int, capacity),
		head:     nilIdx,
		tail:     nilIdx,
	}, nil
}

func (c *Cache) unlink(i int) {
	e := &c.entries[i]
	if e.prev != nilIdx {
		c.entries[e.prev].next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nilIdx {
		c.entries[e.next].prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nilIdx, nilIdx
}

func (c *Cache) pushFront(i int) {
	e := &c.entries[i]
	e.prev = nilIdx
	e.next = c.head
	if c.head != nilIdx {
		c.entries[c.head].prev = i
	}
	c.head = i
	if c.tail == nilIdx {
		c.tail = i
	}
}

// Get returns the cached value for key, verifying its checksum. A
// checksum mismatch is treated as a cache miss and the slot is evicted,
// since a corrupted in-memory cache entry must never be trusted over a
// fresh read from the metadata subjournal.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := &c.entries[i]
	if crc32.ChecksumIEEE(e.value) != e.checksum {
		c.evictLocked(i)
		c.misses++
		return nil, false
	}
	c.unlink(i)
	c.pushFront(i)
	c.hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Put inserts or replaces the cached value for key, evicting the least
// recently used entry if the cache is at capacity.
func (c *Cache) Put(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[key]; ok {
		e := &c.entries[i]
		e.value = append([]byte(nil), value...)
		e.checksum = crc32.ChecksumIEEE(e.value)
		c.unlink(i)
		c.pushFront(i)
		return
	}

	var i int
	if len(c.entries) < c.capacity {
		c.entries = append(c.entries, entry{})
		i = len(c.entries) - 1
	} else if n := len(c.free); n > 0 {
		i = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		// At capacity with no free slots: evict the LRU tail first.
		i = c.tail
		delete(c.index, c.entries[i].key)
		c.unlink(i)
		c.evictions++
	}

	c.entries[i] = entry{
		key:      key,
		value:    append([]byte(nil), value...),
		checksum: crc32.ChecksumIEEE(value),
		inUse:    true,
	}
	c.index[key] = i
	c.pushFront(i)
}

// Invalidate removes key from the cache, if present.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

func (c *Cache) invalidateLocked(key Key) {
	i, ok := c.index[key]
	if !ok {
		return
	}
	c.evictLocked(i)
}

func (c *Cache) evictLocked(i int) {
	delete(c.index, c.entries[i].key)
	c.unlink(i)
	c.entries[i] = entry{}
	c.free = append(c.free, i)
}

// Stats reports cumulative hit/miss/eviction counters for metrics export.
func (c *Cache) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
