// Package reconcile mirrors server-owned room collections into locally owned
// representations, keeping exactly one representation per live key and none
// across a connection boundary.
package reconcile

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Kind adapts one entity type to a Reconciler. V is the remote entry, R the
// local representation.
type Kind[V any, R any] interface {
	Name() string
	// Collection returns the room's collection for this kind, or nil.
	Collection(room session.Room) statesync.Collection[string, V]
	// Create builds a representation for a newly added entry.
	Create(key string, value V) *R
	// Update copies differing fields of value into rep, emits the update
	// events, and reports whether anything changed.
	Update(key string, rep *R, value V) bool
	Added(key string, rep *R, value V)
	Removed(key string, rep *R)
}

// Spawner owns resources behind a representation, such as a scene entity.
// release is called when the representation is destroyed.
type Spawner[R any] interface {
	Spawn(key string, rep *R) (release func(), err error)
}

type managed[R any] struct {
	rep      *R
	release  func()
	unchange func()
}

// Reconciler is the kind-independent diff engine. It is loop-affine: every
// method and callback runs on the dispatcher goroutine.
type Reconciler[V any, R any] struct {
	kind    Kind[V, R]
	spawner Spawner[R]

	entries map[string]*managed[R]
	coll    statesync.Collection[string, V]
	bound   []func()
	subs    []func()
}

func newReconciler[V any, R any](lc session.Lifecycle, kind Kind[V, R], spawner Spawner[R]) *Reconciler[V, R] {
	r := &Reconciler[V, R]{
		kind:    kind,
		spawner: spawner,
		entries: make(map[string]*managed[R]),
	}
	r.subs = append(r.subs,
		lc.OnConnected(r.attach),
		lc.OnDisconnected(func(session.DisconnectedEvent) { r.Sweep() }),
	)
	return r
}

// Len returns the number of live representations.
func (r *Reconciler[V, R]) Len() int { return len(r.entries) }

// Get returns the representation for key.
func (r *Reconciler[V, R]) Get(key string) (*R, bool) {
	m, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return m.rep, true
}

// Keys returns the live keys in sorted order.
func (r *Reconciler[V, R]) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close detaches from the lifecycle and destroys every representation.
func (r *Reconciler[V, R]) Close() {
	r.Sweep()
	for _, unsub := range r.subs {
		unsub()
	}
	r.subs = nil
}

func (r *Reconciler[V, R]) attach(room session.Room) {
	if len(r.entries) > 0 {
		log.Warn().
			Str("kind", r.kind.Name()).
			Int("stale", len(r.entries)).
			Msg("connected without a prior sweep, clearing stale representations")
		r.Sweep()
	}
	r.detach()

	var coll statesync.Collection[string, V]
	if !bus.Guard(r.kind.Name()+" collection", func() { coll = r.kind.Collection(room) }) || coll == nil {
		log.Warn().Str("kind", r.kind.Name()).Str("room_id", room.ID()).Msg("room has no collection for kind")
		return
	}

	r.coll = coll
	r.bound = append(r.bound,
		coll.OnAdd(r.add),
		coll.OnRemove(func(key string, _ V) { r.remove(key) }),
	)
	coll.ForEach(r.add)

	log.Debug().
		Str("kind", r.kind.Name()).
		Int("count", len(r.entries)).
		Msg("initial population sweep complete")
}

func (r *Reconciler[V, R]) detach() {
	for _, unbind := range r.bound {
		unbind()
	}
	r.bound = nil
	r.coll = nil
}

func (r *Reconciler[V, R]) add(key string, value V) {
	if _, exists := r.entries[key]; exists {
		log.Debug().Str("kind", r.kind.Name()).Str("key", key).Msg("ignoring duplicate add")
		return
	}

	bus.Guard(r.kind.Name()+" add", func() {
		rep := r.kind.Create(key, value)
		m := &managed[R]{rep: rep}
		if r.spawner != nil {
			release, err := r.spawner.Spawn(key, rep)
			if err != nil {
				log.Error().Err(err).Str("kind", r.kind.Name()).Str("key", key).Msg("failed to spawn representation")
				return
			}
			m.release = release
		}

		r.entries[key] = m
		if r.coll != nil {
			m.unchange = r.coll.OnChange(key, func(v V) { r.change(key, v) })
		}
		r.kind.Added(key, rep, value)
	})
}

func (r *Reconciler[V, R]) change(key string, value V) {
	m, ok := r.entries[key]
	if !ok {
		log.Debug().Str("kind", r.kind.Name()).Str("key", key).Msg("ignoring change for unknown key")
		return
	}
	bus.Guard(r.kind.Name()+" change", func() {
		if !r.kind.Update(key, m.rep, value) {
			log.Trace().Str("kind", r.kind.Name()).Str("key", key).Msg("change without differences")
		}
	})
}

func (r *Reconciler[V, R]) remove(key string) {
	m, ok := r.entries[key]
	if !ok {
		log.Warn().Str("kind", r.kind.Name()).Str("key", key).Msg("remove for unknown key")
		return
	}
	r.destroy(key, m)
}

func (r *Reconciler[V, R]) destroy(key string, m *managed[R]) {
	delete(r.entries, key)
	if m.unchange != nil {
		m.unchange()
	}
	if m.release != nil {
		bus.Guard(r.kind.Name()+" release", m.release)
	}
	bus.Guard(r.kind.Name()+" removed", func() { r.kind.Removed(key, m.rep) })
}

// Sweep detaches from the current collection and destroys every remaining
// representation in key order, emitting a removal for each.
func (r *Reconciler[V, R]) Sweep() {
	r.detach()
	keys := r.Keys()
	for _, key := range keys {
		r.destroy(key, r.entries[key])
	}
	if len(keys) > 0 {
		log.Debug().Str("kind", r.kind.Name()).Int("count", len(keys)).Msg("representations swept")
	}
}
