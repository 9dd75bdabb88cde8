package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/droned/droned/internal/domain"
)

// Registry holds every action reachable from a blaster command, keyed by
// name: a simple name-to-handler map, since actions here are static
// registrations rather than queued work items (queuing happens one layer
// up, in Dispatcher).
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds action, replacing any existing registration of the same
// name (used by plugin/AdminAction reload).
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// Unregister removes an action by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actions, name)
}

// Lookup finds an action by name.
func (r *Registry) Lookup(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", domain.ErrUnknownAction, name)
	}
	return a, nil
}

// List returns all registered actions sorted by name (used by the "help"
// built-in).
func (r *Registry) List() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
