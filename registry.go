package gemini

import (
	"sync"

	"github.com/google/uuid"
)

// Registry keeps in-flight client requests alive until their result has
// been delivered. Callers never hold the engine themselves; they only see
// the opaque id.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu      sync.Mutex
	engines map[uuid.UUID]*engine
}

func (r *Registry) insert(e *engine) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engines == nil {
		r.engines = map[uuid.UUID]*engine{}
	}
	r.engines[id] = e
	return id
}

// release forgets the engine. It is called from the engine's own
// goroutine after the engine has torn down its connection and timers,
// so the registry never destroys anything itself.
func (r *Registry) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}

// Has reports whether the request with the given id is still in flight.
func (r *Registry) Has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.engines[id]
	return ok
}

// Len returns the number of requests in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
