package worker

import "sync"

// Registry provides thread-safe storage and lookup of worker sessions,
// indexed by session id and by plan id plus task text.
//
// Grounded on the teacher's lifecycle.InstanceStore (internal/agent/
// lifecycle/instance_store.go): the same primary-plus-secondary-index
// shape and WithLock escape hatch, generalized from agent instances keyed
// by instance/task/container id to worker sessions keyed by session/task id
// (the worktree-per-session design has no container concept to index by).
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byTask    map[string]string // PlanID+"/"+Task text -> sessionID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byTask:   make(map[string]string),
	}
}

// Add registers a session under its own id and, if its PlanID is set,
// under its plan id plus task text.
func (r *Registry) Add(s *Session) {
	info := s.Snapshot()
	if info.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = s
	if info.PlanID != "" {
		r.byTask[info.PlanID+"/"+info.Task] = info.ID
	}
}

// Remove drops a session from all indexes.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	info := s.Snapshot()
	if info.PlanID != "" {
		delete(r.byTask, info.PlanID+"/"+info.Task)
	}
	delete(r.sessions, sessionID)
}

// Get returns a session by id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// List returns every tracked session.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
