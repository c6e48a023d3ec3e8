// Package registry owns the configured backend connections and the active
// set selected for status display and chat dispatch. All mutations are
// serialized and persisted before they are acknowledged.
package registry

import (
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llmtrayd/pkg/types"
)

type Registry struct {
	mu     sync.RWMutex
	conns  []types.Connection // insertion order, stable
	active []string
	store  Store
	log    zerolog.Logger
}

// Load builds a Registry from persisted state. A corrupt state file is
// not fatal: it logs a warning and starts empty rather than refusing to
// start.
func Load(store Store, log zerolog.Logger) *Registry {
	r := &Registry{store: store, log: log}
	st, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("persisted state unreadable, starting with empty registry")
		return r
	}
	r.conns = st.Connections
	r.active = pruneDangling(st.Active, st.Connections)
	return r
}

// Add validates and inserts a new connection, persisting before returning.
// An empty id is filled with a generated UUID.
func (r *Registry) Add(c types.Connection) (types.Connection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := validate(c); err != nil {
		return types.Connection{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(c.ID) >= 0 {
		return types.Connection{}, ErrValidation("duplicate connection id: " + c.ID)
	}
	next := append(copyConns(r.conns), c)
	if err := r.store.Save(State{Connections: next, Active: r.active}); err != nil {
		return types.Connection{}, err
	}
	r.conns = next
	r.log.Info().Str("id", c.ID).Str("kind", string(c.Kind)).Msg("connection added")
	return c, nil
}

// Update merges non-nil fields into an existing connection and persists.
func (r *Registry) Update(id string, upd types.UpdateConnectionRequest) (types.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return types.Connection{}, ErrNotFound(id)
	}
	c := r.conns[i]
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.BaseURL != nil {
		c.BaseURL = *upd.BaseURL
	}
	if upd.APIKey != nil {
		c.APIKey = *upd.APIKey
	}
	if upd.Container != nil {
		c.Container = *upd.Container
	}
	if err := validate(c); err != nil {
		return types.Connection{}, err
	}
	next := copyConns(r.conns)
	next[i] = c
	if err := r.store.Save(State{Connections: next, Active: r.active}); err != nil {
		return types.Connection{}, err
	}
	r.conns = next
	return c, nil
}

// Remove deletes a connection and cascades removal from the active set in
// the same persisted write, so a reader never observes a dangling id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return ErrNotFound(id)
	}
	next := append(copyConns(r.conns[:i]), r.conns[i+1:]...)
	nextActive := make([]string, 0, len(r.active))
	for _, a := range r.active {
		if a != id {
			nextActive = append(nextActive, a)
		}
	}
	if err := r.store.Save(State{Connections: next, Active: nextActive}); err != nil {
		return err
	}
	r.conns = next
	r.active = nextActive
	r.log.Info().Str("id", id).Msg("connection removed")
	return nil
}

// List returns all connections in insertion order.
func (r *Registry) List() []types.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyConns(r.conns)
}

// Get looks up one connection by id.
func (r *Registry) Get(id string) (types.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(id)
	if i < 0 {
		return types.Connection{}, false
	}
	return r.conns[i], true
}

// SetActive replaces the active set, rejecting ids not in the registry.
func (r *Registry) SetActive(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if r.indexOf(id) < 0 {
			return ErrValidation("active id not in registry: " + id)
		}
		if seen[id] {
			return ErrValidation("duplicate active id: " + id)
		}
		seen[id] = true
	}
	next := append([]string(nil), ids...)
	if err := r.store.Save(State{Connections: r.conns, Active: next}); err != nil {
		return err
	}
	r.active = next
	return nil
}

// Active returns the ordered active set.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.active...)
}

func (r *Registry) indexOf(id string) int {
	for i, c := range r.conns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func validate(c types.Connection) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrValidation("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return ErrValidation("base_url is not a valid URL: " + err.Error())
	}
	switch c.Kind {
	case types.KindContainerManaged:
		if strings.TrimSpace(c.Container) == "" {
			return ErrValidation("container is required for container-managed connections")
		}
	case types.KindRemoteAPI:
		// no extra fields required
	default:
		return ErrValidation("unknown connection kind: " + string(c.Kind))
	}
	return nil
}

func copyConns(in []types.Connection) []types.Connection {
	out := make([]types.Connection, len(in))
	copy(out, in)
	return out
}

func pruneDangling(active []string, conns []types.Connection) []string {
	known := make(map[string]bool, len(conns))
	for _, c := range conns {
		known[c.ID] = true
	}
	out := make([]string, 0, len(active))
	for _, id := range active {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}
