// Package predicates holds the unlock conditions of every achievement.
//
// A predicate is a pure function of one user's Snapshot. It never mutates the
// snapshot, returns false on empty collections and treats an empty filtered
// set as "not met". Predicates are keyed by the stable achievement id used in
// the catalog.
package predicates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Jose-Baigorria/tracking-carrera/internal/domain/academic"
)

// Predicate decides whether a snapshot satisfies an achievement.
type Predicate func(s *academic.Snapshot) bool

// Registry maps achievement ids to predicates.
type Registry struct {
	predicates map[string]Predicate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{predicates: make(map[string]Predicate)}
}

// Register adds a predicate. Registering the same id twice panics, the set
// is fixed at build time.
func (r *Registry) Register(id string, p Predicate) {
	if id == "" || p == nil {
		panic("predicates: empty id or nil predicate")
	}
	if _, exists := r.predicates[id]; exists {
		panic(fmt.Sprintf("predicates: duplicate id %q", id))
	}
	r.predicates[id] = p
}

// Lookup returns the predicate registered for id.
func (r *Registry) Lookup(id string) (Predicate, bool) {
	p, ok := r.predicates[id]
	return p, ok
}

// IDs returns every registered id in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.predicates))
	for id := range r.predicates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered predicates.
func (r *Registry) Len() int {
	return len(r.predicates)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry with every achievement condition. It is built
// once and shared; callers must not register into it.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		registerMilestones(r)
		registerStreaks(r)
		registerCollections(r)
		registerAverages(r)
		registerProgress(r)
		registerSpecializations(r)
		registerChallenges(r)
		registerRecovery(r)
		registerSocial(r)
		registerCuriosities(r)
		registerNegative(r)
		registerGraduation(r)
		defaultRegistry = r
	})
	return defaultRegistry
}
