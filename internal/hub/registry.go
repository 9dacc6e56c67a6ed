package hub

import (
	"sync"

	"rsacomm/internal/message"
)

// Registry is the authoritative name to session directory. The backing
// map never escapes; every operation is atomic behind the registry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert binds name to s unless the name is already taken.
func (r *Registry) Insert(name string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[name]; taken {
		return false
	}
	r.sessions[name] = s
	return true
}

// Remove unbinds name, but only if it still maps to s. A session that
// lost its name to a later login must not evict the newcomer.
func (r *Registry) Remove(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[name]; ok && current == s {
		delete(r.sessions, name)
	}
}

func (r *Registry) Lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Snapshot returns the current sessions. Broadcasts iterate the snapshot
// so no session lock is ever taken while the registry lock is held by a
// writer, and no two session locks are held together.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Users builds a directory snapshot for a USER_LIST payload. The server
// never holds peer session keys, so HasSessionKey is always false here;
// clients fill it in from their own peer state.
func (r *Registry) Users() map[string]message.UserInfo {
	users := make(map[string]message.UserInfo)
	for _, s := range r.Snapshot() {
		name := s.Name()
		if name == "" {
			continue
		}
		users[name] = message.UserInfo{PublicKey: s.PublicKey()}
	}
	return users
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
