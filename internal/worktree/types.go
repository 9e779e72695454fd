package worktree

import "time"

// Worktree represents a Git worktree checked out for a single worker
// session's task.
type Worktree struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	TaskID         string     `json:"taskId"`
	RepositoryID   string     `json:"repositoryId"`
	RepositoryPath string     `json:"repositoryPath"`
	Path           string     `json:"path"`
	Branch         string     `json:"branch"`
	BaseBranch     string     `json:"baseBranch"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	MergedAt       *time.Time `json:"mergedAt,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// CreateRequest contains the parameters for creating (or reusing) a
// worktree.
type CreateRequest struct {
	// SessionID is the worker session this worktree belongs to (required).
	SessionID string
	// TaskID identifies the task the session is working on (required).
	TaskID string
	// RepositoryID is the repository identifier (required).
	RepositoryID string
	// RepositoryPath is the local path to the main repository (required).
	RepositoryPath string
	// BaseBranch is the branch to base the worktree on (required).
	BaseBranch string
	// WorktreeBranchPrefix overrides the manager's default branch prefix.
	WorktreeBranchPrefix string
	// TaskTitle, when set, drives semantic directory/branch naming instead
	// of a task-ID-derived fallback.
	TaskTitle string
	// WorktreeID, when set, asks Create to reuse that specific worktree
	// (session resumption) before falling back to creating a new one.
	WorktreeID string
	// PullBeforeWorktree pulls the base branch in the main repository
	// before branching the worktree off it.
	PullBeforeWorktree bool
}

// Validate checks that the required fields for worktree creation are set.
func (r *CreateRequest) Validate() error {
	if r.TaskID == "" {
		return ErrWorktreeNotFound
	}
	if r.RepositoryPath == "" {
		return ErrRepoNotGit
	}
	if r.BaseBranch == "" {
		return ErrInvalidBaseBranch
	}
	return nil
}

// Worktree lifecycle states.
const (
	StatusActive  = "active"
	StatusMerged  = "merged"
	StatusDeleted = "deleted"
)
