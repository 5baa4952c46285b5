package rpc

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ID identifies a registered RPC function; it is the hash of the function
// name and travels in request headers.
type ID uint64

// HashID computes the operation id for a function name.
func HashID(name string) ID {
	return ID(xxhash.Sum64String(name))
}

// Handler processes an incoming request. It receives the handle carrying the
// decoded input buffer and is expected to call Respond, synchronously or
// later, then release its reference with Destroy.
type Handler func(*Handle) error

type rpcEntry struct {
	name    string
	handler Handler
	data    any
	deleter func(any)
}

// registry maps operation ids to handlers. The full name is kept so that two
// distinct names colliding under the hash fail registration instead of
// silently aliasing.
type registry struct {
	mu      sync.RWMutex
	entries map[ID]*rpcEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[ID]*rpcEntry)}
}

func (r *registry) register(name string, handler Handler) (ID, error) {
	id := HashID(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entries[id]
	if ok && existing.name != name {
		return 0, fmt.Errorf("rpc: id collision: %q and %q both hash to %#x", existing.name, name, uint64(id))
	}
	entry := &rpcEntry{name: name, handler: handler}
	if ok {
		// Re-registration swaps the handler only; attached data and its
		// deleter carry over to the new entry.
		entry.data = existing.data
		entry.deleter = existing.deleter
	}
	r.entries[id] = entry
	return id, nil
}

func (r *registry) registered(name string) (ID, bool) {
	id := HashID(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.name != name {
		return 0, false
	}
	return id, true
}

func (r *registry) attachData(id ID, data any, deleter func(any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return ErrNoMatch
	}
	entry.data = data
	entry.deleter = deleter
	return nil
}

func (r *registry) lookupData(id ID) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	return entry.data
}

func (r *registry) lookupHandler(id ID) (*rpcEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrNoMatch
	}
	return entry, nil
}

// finalize runs every entry's deleter and clears the map.
func (r *registry) finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.deleter != nil {
			entry.deleter(entry.data)
		}
	}
	r.entries = make(map[ID]*rpcEntry)
}
