package completion

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
)

// CleanupOptions configures worktree teardown.
type CleanupOptions struct {
	RemoveBranch   bool
	RepositoryPath string
}

// CleanupResult reports what happened during teardown.
type CleanupResult struct {
	Success  bool
	Stashed  bool
	StashRef string
	Error    string
}

// CleanupWorktree auto-stashes any uncommitted changes, then removes the
// worktree directory and (optionally) its branch from the repository.
// Cleanup fails outright if the auto-stash fails, rather than silently
// discarding in-progress work.
//
// Grounded on the teacher's worktree.Manager.removeWorktree: run cleanup
// before directory removal, then `git branch -D` when removeBranch is
// set; the auto-stash step is this package's addition, since the
// completion engine (unlike the worktree manager, which only tears down
// already-merged worktrees) may be asked to clean up a worktree mid-task.
func (e *Engine) CleanupWorktree(ctx context.Context, worktreePath string, opts CleanupOptions) (*CleanupResult, error) {
	if !e.tryLock(worktreePath) {
		return nil, &ErrOperationInProgress{Path: worktreePath}
	}
	defer e.unlock(worktreePath)

	result := &CleanupResult{}

	dirty, _, err := e.uncommittedFiles(ctx, worktreePath)
	if err != nil {
		return nil, err
	}
	if dirty {
		output, stashErr := combinedOutput(ctx, e.runner, worktreePath, "stash", "push", "-u", "-m", "Auto-stash before worktree removal")
		if stashErr != nil {
			result.Error = "auto-stash failed: " + stashErr.Error()
			return result, nil
		}
		result.Stashed = true
		result.StashRef = output
	}

	branch, _ := combinedOutput(ctx, e.runner, worktreePath, "rev-parse", "--abbrev-ref", "HEAD")

	if err := os.RemoveAll(worktreePath); err != nil {
		result.Error = "failed to remove worktree directory: " + err.Error()
		return result, nil
	}

	repo := opts.RepositoryPath
	if repo != "" {
		if _, err := combinedOutput(ctx, e.runner, repo, "worktree", "prune"); err != nil {
			e.logger.Warn("worktree prune failed", zap.Error(err))
		}
		if opts.RemoveBranch && branch != "" {
			if _, err := combinedOutput(ctx, e.runner, repo, "branch", "-D", strings.TrimSpace(branch)); err != nil {
				e.logger.Warn("failed to delete branch after cleanup", zap.Error(err))
			}
		}
	}

	result.Success = true
	return result, nil
}
