package session

import "sync"

// Registry maps user ids to their live Session. Reads are concurrent;
// callers that create, replace or remove an entry hold Lock for that key
// first so two mutations for one user never interleave.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	keys keyedMutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		keys:     keyedMutex{locks: make(map[string]*refMutex)},
	}
}

func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Put replaces any existing entry. The caller must already have released
// the previous session's connection.
func (r *Registry) Put(userID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = s
}

func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// removeIf deletes the entry only while it is still s.
func (r *Registry) removeIf(userID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] != s {
		return false
	}
	delete(r.sessions, userID)
	return true
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for a copy of the current entries; returning false stops.
func (r *Registry) Range(fn func(s *Session) bool) {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	for _, s := range list {
		if !fn(s) {
			return
		}
	}
}

// Lock serializes mutations for one user and returns the unlock func.
func (r *Registry) Lock(userID string) func() {
	return r.keys.lock(userID)
}

type refMutex struct {
	sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
