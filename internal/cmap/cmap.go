// Package cmap is a sharded concurrent map used anywhere the control
// plane needs a registry keyed by string (websocket sessions, breakers,
// per-IP rate limiters) without a single global mutex.
package cmap

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shardCount = 32

// Map is a concurrent map split into shardCount shards, each guarded
// by its own RWMutex, so unrelated keys never contend.
type Map[V any] struct {
	shards []*shard[V]
}

type shard[V any] struct {
	items map[string]V
	sync.RWMutex
}

// New creates an empty Map ready for use.
func New[V any]() *Map[V] {
	m := &Map[V]{shards: make([]*shard[V], shardCount)}
	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) getShard(key string) *shard[V] {
	return m.shards[fnv32(key)%uint32(shardCount)]
}

// Set stores value under key, overwriting any existing entry.
func (m *Map[V]) Set(key string, value V) {
	s := m.getShard(key)
	s.Lock()
	s.items[key] = value
	s.Unlock()
}

// SetIfAbsent stores value under key only if key is not already
// present. Returns true if it stored the value.
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.getShard(key)
	s.Lock()
	defer s.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = value
	return true
}

// Get retrieves the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.getShard(key)
	s.RLock()
	v, ok := s.items[key]
	s.RUnlock()
	return v, ok
}

// Remove deletes key from the map, if present.
func (m *Map[V]) Remove(key string) {
	s := m.getShard(key)
	s.Lock()
	delete(s.items, key)
	s.Unlock()
}

// Pop removes key and returns the value that was stored there, if any.
func (m *Map[V]) Pop(key string) (v V, existed bool) {
	s := m.getShard(key)
	s.Lock()
	v, existed = s.items[key]
	delete(s.items, key)
	s.Unlock()
	return v, existed
}

// Count returns the total number of entries across all shards.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.RLock()
		n += len(s.items)
		s.RUnlock()
	}
	return n
}

// Has reports whether key is present.
func (m *Map[V]) Has(key string) bool {
	s := m.getShard(key)
	s.RLock()
	_, ok := s.items[key]
	s.RUnlock()
	return ok
}

// IterCb calls fn for every key/value pair. RLock is held per-shard
// while iterating that shard, so fn must not call back into the map.
func (m *Map[V]) IterCb(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.RLock()
		cont := true
		for k, v := range s.items {
			if !fn(k, v) {
				cont = false
				break
			}
		}
		s.RUnlock()
		if !cont {
			return
		}
	}
}

// Items returns a snapshot copy of every key/value pair in the map.
func (m *Map[V]) Items() map[string]V {
	out := make(map[string]V, m.Count())
	m.IterCb(func(k string, v V) bool {
		out[k] = v
		return true
	})
	return out
}

// MarshalJSON exposes the map's contents for diagnostics/debug endpoints.
func (m *Map[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Items())
}

func fnv32(key string) uint32 {
	hash := uint32(2166136261)
	const prime32 = uint32(16777619)
	for i := 0; i < len(key); i++ {
		hash *= prime32
		hash ^= uint32(key[i])
	}
	return hash
}
