package orchestrator

import (
	"sort"
	"time"

	"github.com/kandev/orchestrion/internal/common/apperrors"
)

// Workspace is a repository directory the orchestrator can deploy worktrees
// against, tracked by path for the spec.md §6 `/api/workspaces*` surface.
type Workspace struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// RegisterWorkspace adds or touches a workspace by path, moving it to the
// front of the recent list. POST /api/workspaces.
func (s *Service) RegisterWorkspace(path, name string) (*Workspace, error) {
	if path == "" {
		return nil, apperrors.ValidationError("path", "workspace path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workspaces {
		if w.Path == path {
			w.LastUsedAt = s.clock.Now()
			return w, nil
		}
	}

	ws := &Workspace{ID: newID("ws"), Path: path, Name: name, LastUsedAt: s.clock.Now()}
	s.workspaces = append(s.workspaces, ws)
	return ws, nil
}

// ListWorkspaces returns every known workspace. GET /api/workspaces.
func (s *Service) ListWorkspaces() []*Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workspace, len(s.workspaces))
	copy(out, s.workspaces)
	return out
}

// RecentWorkspaces returns workspaces ordered most-recently-used first,
// capped at limit (default 10). GET /api/workspaces/recent.
func (s *Service) RecentWorkspaces(limit int) []*Workspace {
	if limit <= 0 {
		limit = 10
	}
	out := s.ListWorkspaces()
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
