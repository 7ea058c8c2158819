// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package cache provides the bounded in-memory structures used by Bustrack
// components: a generic LRU key set and the exact-match deduplication set
// built on it.
package cache

import "sync"

// entry is a node of the LRU list.
type entry[K comparable] struct {
	key  K
	prev *entry[K]
	next *entry[K]
}

// LRU is a thread-safe least recently used key set with O(1) insert,
// lookup and eviction. A doubly-linked list keeps recency order and
// a map gives lookup.
type LRU[K comparable] struct {
	mu sync.Mutex

	capacity int
	items    map[K]*entry[K]

	// head.next is the most recently used, tail.prev the least.
	head *entry[K]
	tail *entry[K]
}

// NewLRU creates a cache holding at most capacity entries. Non-positive
// capacities default to 1024.
func NewLRU[K comparable](capacity int) *LRU[K] {
	if capacity <= 0 {
		capacity = 1024
	}
	c := &LRU[K]{
		capacity: capacity,
		items:    make(map[K]*entry[K], capacity),
		head:     &entry[K]{},
		tail:     &entry[K]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Contains reports whether key is present without touching recency.
func (c *LRU[K]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// AddIfAbsent inserts key when it is missing and reports whether it was
// already present. A present key is marked most recently used; an insert
// past capacity evicts the least recently used entry.
func (c *LRU[K]) AddIfAbsent(key K) (present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.unlink(e)
		c.pushFront(e)
		return true
	}

	e := &entry[K]{key: key}
	c.pushFront(e)
	c.items[key] = e
	if len(c.items) > c.capacity {
		oldest := c.tail.prev
		c.unlink(oldest)
		delete(c.items, oldest.key)
	}
	return false
}

// Len returns the number of entries.
func (c *LRU[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes every entry.
func (c *LRU[K]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[K], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

func (c *LRU[K]) pushFront(e *entry[K]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[K]) unlink(e *entry[K]) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

// Dedup is an exact-match "seen before" set with bounded memory. Keys are
// forgotten in least recently seen order once capacity is exceeded.
type Dedup struct {
	lru *LRU[string]
}

// NewDedup creates a set remembering up to capacity keys.
func NewDedup(capacity int) *Dedup {
	return &Dedup{lru: NewLRU[string](capacity)}
}

// IsDuplicate records key and reports whether it had been seen already.
func (d *Dedup) IsDuplicate(key string) bool {
	return d.lru.AddIfAbsent(key)
}

// Contains reports whether key has been seen, without recording it.
func (d *Dedup) Contains(key string) bool {
	return d.lru.Contains(key)
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	return d.lru.Len()
}

// Clear forgets every key.
func (d *Dedup) Clear() {
	d.lru.Clear()
}
