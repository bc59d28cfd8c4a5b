package stream

import (
	"maps"
	"slices"
	"sync"

	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

// Registry maps instrument identifiers to the specifier they were subscribed
// with. It is shared between the controller (writer) and the worker (reader).
type Registry struct {
	feed    Feed
	mu      sync.RWMutex
	entries map[string]Specifier
}

// NewRegistry creates an empty registry that accepts the feed's specifiers.
func NewRegistry(feed Feed) *Registry {
	return &Registry{
		feed:    feed,
		mu:      sync.RWMutex{},
		entries: make(map[string]Specifier),
	}
}

// Add registers an instrument. The first registration wins: adding an
// instrument that is already present leaves its specifier untouched and reports
// false. Specifiers outside the feed's allowed set are rejected.
func (r *Registry) Add(instrumentID string, specifier Specifier) (bool, error) {
	if !r.feed.Allows(specifier) {
		return false, errors.Newf(errors.ErrCodeInvalidSpecifier,
			"specifier %q is not allowed for %s feed", specifier, r.feed.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[instrumentID]; ok {
		return false, nil
	}

	r.entries[instrumentID] = specifier

	return true, nil
}

// Remove drops an instrument and reports whether it was present.
func (r *Registry) Remove(instrumentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[instrumentID]; !ok {
		return false
	}

	delete(r.entries, instrumentID)

	return true
}

// Lookup returns the specifier registered for an instrument.
func (r *Registry) Lookup(instrumentID string) (Specifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entries[instrumentID]

	return s, ok
}

// Snapshot returns a point-in-time copy of all entries.
func (r *Registry) Snapshot() map[string]Specifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.entries)
}

// Instruments returns the registered instrument identifiers in sorted order.
func (r *Registry) Instruments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.entries))
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
