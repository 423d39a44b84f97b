package services

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"pixelrelay/internal/core/domain"
)

// Endpoint is anything a Registry can hold. Implementations are pointer types.
type Endpoint interface {
	comparable
	EndpointID() string
	SetEndpointID(id string)
}

// Registry maps endpoint ids to live endpoints and owns id allocation. All
// mutations are serialised by one lock; observers run after the lock is
// released, on the mutating goroutine.
type Registry[E Endpoint] struct {
	kind          domain.EndpointKind
	defaultPrefix string

	mu        sync.RWMutex
	order     []E
	byID      map[string]E
	nextID    int
	observers []func(domain.RegistryEvent)
}

func NewRegistry[E Endpoint](kind domain.EndpointKind, defaultPrefix string) *Registry[E] {
	return &Registry[E]{
		kind:          kind,
		defaultPrefix: defaultPrefix,
		byID:          make(map[string]E),
	}
}

// Kind reports which endpoint class this registry holds.
func (r *Registry[E]) Kind() domain.EndpointKind {
	return r.kind
}

// Observe registers fn for every subsequent registry event.
func (r *Registry[E]) Observe(fn func(domain.RegistryEvent)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Add sanitises the endpoint's current id, assigns it and registers the
// endpoint. The committed id is returned.
func (r *Registry[E]) Add(e E) string {
	r.mu.Lock()
	candidate := e.EndpointID()
	if candidate == "" {
		candidate = r.defaultPrefix + strconv.Itoa(r.nextID)
		r.nextID++
	}
	id := SanitizeID(candidate, r.idsLocked())
	e.SetEndpointID(id)
	r.order = append(r.order, e)
	r.byID[id] = e
	event := r.eventLocked(domain.EventAdded, id, "")
	r.mu.Unlock()

	r.notify(event)
	return id
}

// Insert registers e under its current id without sanitising it. It fails if
// the id is empty or already present.
func (r *Registry[E]) Insert(e E) error {
	r.mu.Lock()
	id := e.EndpointID()
	if id == "" {
		r.mu.Unlock()
		return fmt.Errorf("%s registry: empty endpoint id", r.kind)
	}
	if _, exists := r.byID[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%s registry: %w: %s", r.kind, domain.ErrEndpointIDTaken, id)
	}
	r.order = append(r.order, e)
	r.byID[id] = e
	event := r.eventLocked(domain.EventAdded, id, "")
	r.mu.Unlock()

	r.notify(event)
	return nil
}

// Remove unregisters e. It is a no-op returning false when e is absent.
func (r *Registry[E]) Remove(e E) bool {
	r.mu.Lock()
	idx := r.indexLocked(e)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	id := e.EndpointID()
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	if cur, ok := r.byID[id]; ok && cur == e {
		delete(r.byID, id)
	}
	event := r.eventLocked(domain.EventRemoved, id, "")
	r.mu.Unlock()

	r.notify(event)
	return true
}

// Rename re-sanitises requested (or the current id when requested is empty)
// against every other registered id and commits the result.
func (r *Registry[E]) Rename(e E, requested string) (string, error) {
	r.mu.Lock()
	if r.indexLocked(e) < 0 {
		r.mu.Unlock()
		return "", fmt.Errorf("%s registry: endpoint %q is not registered", r.kind, e.EndpointID())
	}
	old := e.EndpointID()
	if requested == "" {
		requested = old
	}
	id := SanitizeID(requested, r.idsExceptLocked(e))
	if id == old {
		r.mu.Unlock()
		return id, nil
	}
	delete(r.byID, old)
	e.SetEndpointID(id)
	r.byID[id] = e
	event := r.eventLocked(domain.EventRenamed, id, old)
	r.mu.Unlock()

	r.notify(event)
	return id, nil
}

// Reassign moves e to an id already chosen by the caller, failing if another
// endpoint holds it.
func (r *Registry[E]) Reassign(e E, id string) error {
	r.mu.Lock()
	if r.indexLocked(e) < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%s registry: endpoint %q is not registered", r.kind, e.EndpointID())
	}
	old := e.EndpointID()
	if id == old {
		r.mu.Unlock()
		return nil
	}
	if cur, exists := r.byID[id]; exists && cur != e {
		r.mu.Unlock()
		return fmt.Errorf("%s registry: %w: %s", r.kind, domain.ErrEndpointIDTaken, id)
	}
	delete(r.byID, old)
	e.SetEndpointID(id)
	r.byID[id] = e
	event := r.eventLocked(domain.EventRenamed, id, old)
	r.mu.Unlock()

	r.notify(event)
	return nil
}

func (r *Registry[E]) Get(id string) (E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

func (r *Registry[E]) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns a snapshot in insertion order.
func (r *Registry[E]) List() []E {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]E, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns registered ids in insertion order.
func (r *Registry[E]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry[E]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry[E]) IsEmpty() bool {
	return r.Count() == 0
}

func (r *Registry[E]) indexLocked(e E) int {
	for i, cur := range r.order {
		if cur == e {
			return i
		}
	}
	return -1
}

func (r *Registry[E]) idsLocked() []string {
	ids := make([]string, len(r.order))
	for i, e := range r.order {
		ids[i] = e.EndpointID()
	}
	return ids
}

func (r *Registry[E]) idsExceptLocked(skip E) []string {
	ids := make([]string, 0, len(r.order))
	for _, e := range r.order {
		if e != skip {
			ids = append(ids, e.EndpointID())
		}
	}
	return ids
}

func (r *Registry[E]) eventLocked(kind domain.RegistryEventKind, id, previous string) domain.RegistryEvent {
	return domain.RegistryEvent{
		Kind:       kind,
		Registry:   r.kind,
		ID:         id,
		PreviousID: previous,
		Count:      len(r.order),
		At:         time.Now(),
	}
}

func (r *Registry[E]) notify(event domain.RegistryEvent) {
	r.mu.RLock()
	observers := make([]func(domain.RegistryEvent), len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	for _, fn := range observers {
		fn(event)
	}
}
