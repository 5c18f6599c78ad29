// Package statesync holds the client-side view of server-pushed room state:
// keyed collections that announce additions, removals and per-entry changes.
package statesync

import (
	"github.com/mcdev12/plaza/go/internal/realtime/bus"
)

// Collection is a remote, server-owned keyed collection as seen by the client.
// Handlers run on the dispatcher that applies server patches.
type Collection[K comparable, V any] interface {
	// OnAdd registers fn for entries added after the call.
	OnAdd(fn func(key K, value V)) func()
	// OnRemove registers fn for entries removed after the call.
	OnRemove(fn func(key K, value V)) func()
	// OnChange registers fn for changes to the entry at key.
	OnChange(key K, fn func(value V)) func()
	// ForEach visits the current entries in insertion order.
	ForEach(fn func(key K, value V))
}

// MapCollection is an insertion-ordered Collection backed by a map.
// It is not safe for concurrent use; callers serialize through a dispatcher.
type MapCollection[K comparable, V any] struct {
	keys    []K
	values  map[K]V
	added   bus.Signal[entry[K, V]]
	removed bus.Signal[entry[K, V]]
	changed map[K]*bus.Signal[V]
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// NewMapCollection creates an empty collection.
func NewMapCollection[K comparable, V any]() *MapCollection[K, V] {
	return &MapCollection[K, V]{
		values:  make(map[K]V),
		changed: make(map[K]*bus.Signal[V]),
	}
}

func (c *MapCollection[K, V]) OnAdd(fn func(key K, value V)) func() {
	return c.added.Subscribe(func(e entry[K, V]) { fn(e.key, e.value) })
}

func (c *MapCollection[K, V]) OnRemove(fn func(key K, value V)) func() {
	return c.removed.Subscribe(func(e entry[K, V]) { fn(e.key, e.value) })
}

func (c *MapCollection[K, V]) OnChange(key K, fn func(value V)) func() {
	sig, ok := c.changed[key]
	if !ok {
		sig = &bus.Signal[V]{}
		c.changed[key] = sig
	}
	return sig.Subscribe(fn)
}

func (c *MapCollection[K, V]) ForEach(fn func(key K, value V)) {
	keys := make([]K, len(c.keys))
	copy(keys, c.keys)
	for _, k := range keys {
		v, ok := c.values[k]
		if !ok {
			continue
		}
		fn(k, v)
	}
}

// Set inserts or replaces the entry at key, firing add or change.
func (c *MapCollection[K, V]) Set(key K, value V) {
	if _, exists := c.values[key]; exists {
		c.values[key] = value
		if sig, ok := c.changed[key]; ok {
			sig.Emit(value)
		}
		return
	}

	c.keys = append(c.keys, key)
	c.values[key] = value
	c.added.Emit(entry[K, V]{key: key, value: value})
}

// Delete removes the entry at key, firing remove. Missing keys are ignored.
func (c *MapCollection[K, V]) Delete(key K) bool {
	value, exists := c.values[key]
	if !exists {
		return false
	}

	delete(c.values, key)
	delete(c.changed, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
			break
		}
	}
	c.removed.Emit(entry[K, V]{key: key, value: value})
	return true
}

// Get returns the entry at key.
func (c *MapCollection[K, V]) Get(key K) (V, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of entries.
func (c *MapCollection[K, V]) Len() int {
	return len(c.values)
}

// Keys returns the keys in insertion order.
func (c *MapCollection[K, V]) Keys() []K {
	keys := make([]K, len(c.keys))
	copy(keys, c.keys)
	return keys
}
