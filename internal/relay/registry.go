package relay

import "sync"

// Registry is the concurrency-safe set of live connections, keyed by ID.
// It holds non-owning references: it never closes a member on its own,
// except through CloseAll.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register adds conn. It fails with ErrAlreadyRegistered if another live
// connection uses the same ID, or if conn itself is already a member.
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return ErrAlreadyRegistered
	}
	r.conns[conn.ID()] = conn
	return nil
}

// Deregister removes conn and reports whether it was a member. Removing an
// absent connection is a no-op. An entry registered under the same ID by a
// different connection is left alone.
func (r *Registry) Deregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.conns[conn.ID()]
	if !exists || current != conn {
		return false
	}
	delete(r.conns, conn.ID())
	return true
}

// Snapshot returns a copy of all members except excluding. A nil excluding
// returns every member. The caller may iterate and perform I/O on the
// result without holding any registry lock.
func (r *Registry) Snapshot(excluding Conn) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		if excluding != nil && conn == excluding {
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// Contains reports whether conn is currently a member.
func (r *Registry) Contains(conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, exists := r.conns[conn.ID()]
	return exists && current == conn
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every member concurrently and returns how many were
// closed. Members stay registered until their own handlers deregister them.
func (r *Registry) CloseAll() int {
	conns := r.Snapshot(nil)
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Go(func() { _ = conn.Close() })
	}
	wg.Wait()
	return len(conns)
}
