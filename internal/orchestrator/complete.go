package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/apperrors"
	"github.com/kandev/orchestrion/internal/common/constants"
	"github.com/kandev/orchestrion/internal/completion"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/worker"
)

// CompleteOptions customizes how a finished worker's branch is folded back
// into its base branch. The zero value squash-merges without pushing,
// opening a PR, or deleting the branch.
type CompleteOptions struct {
	Strategy      completion.MergeStrategy
	CommitMessage string
	Push          bool
	RemoveBranch  bool
	CreatePR      bool
	PRTitle       string
	PRBody        string
}

// MergeOutcome reports what the completion engine did with a worker's
// worktree branch. Nil when no merge was attempted — worktrees disabled,
// or the worker never had one.
type MergeOutcome struct {
	PreMerge *completion.PreMergeCheck
	Merge    *completion.MergeResult
	Cleanup  *completion.CleanupResult
	PR       *completion.PRResult
}

// CompleteWorker marks the named worker session finished and advances its
// task to completed. When the session has a worktree and a completion
// engine is configured, its branch is additionally folded back into its
// base branch: pre-merge check, then either a pull request (opts.CreatePR)
// or a local merge followed by worktree cleanup.
//
// Grounded on spec.md §4.6's `complete` operation: the orchestrator
// contract names `complete` as a single operation but, per SPEC_FULL.md
// §5.6, this package wires queue + router + worktree + completion
// together rather than leaving a finished worker's branch stranded in
// its worktree.
func (s *Service) CompleteWorker(sessionID string, opts CompleteOptions) (*MergeOutcome, error) {
	session, ok := s.workers.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("worker", sessionID)
	}
	if err := session.Complete(); err != nil {
		return nil, apperrors.Wrap(err, "complete worker")
	}
	s.publish("worker.completed", map[string]any{"workerId": sessionID})

	if taskID := s.taskIDForWorker(sessionID); taskID != "" {
		s.setTaskStatus(taskID, model.TaskStatusCompleted)
	}

	outcome, err := s.mergeWorkerBranch(session, opts)
	if err != nil {
		return outcome, apperrors.Wrap(err, fmt.Sprintf("%q completed but merge failed", sessionID))
	}
	return outcome, nil
}

// ResolveWorkerConflicts resolves conflicted files in a session's worktree
// wholesale by taking the "ours" or "theirs" side, surfacing the
// completion engine's resolveAllConflicts operation (spec.md §4.5) for
// callers that prefer a manual decision over the automatic abort a merge
// attempt already performs on conflict.
func (s *Service) ResolveWorkerConflicts(sessionID string, strategy completion.ConflictResolution, files []string) (*completion.ResolveResult, error) {
	session, ok := s.workers.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("worker", sessionID)
	}
	snap := session.Snapshot()
	if s.completion == nil || snap.WorktreePath == "" {
		return nil, apperrors.BadRequest("worker has no worktree to resolve conflicts in")
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.GitCommandTimeout)
	defer cancel()
	result, err := s.completion.ResolveConflicts(ctx, snap.WorktreePath, strategy, files)
	if err != nil {
		return nil, apperrors.TransientIO("resolve conflicts", err)
	}
	s.publish("worker.conflicts_resolved", map[string]any{"workerId": sessionID, "resolvedFiles": result.ResolvedFiles})
	return result, nil
}

// mergeWorkerBranch runs the completion engine's merge workflow for a
// just-completed session. It is a no-op (nil, nil) when worktrees are
// disabled, the session never got one, or no completion engine is wired.
func (s *Service) mergeWorkerBranch(session *worker.Session, opts CompleteOptions) (*MergeOutcome, error) {
	snap := session.Snapshot()
	if s.completion == nil || snap.RepoPath == "" || snap.BranchName == "" || snap.BaseBranch == "" {
		return nil, nil
	}
	if opts.Strategy == "" {
		opts.Strategy = completion.MergeStrategySquash
	}

	checkCtx, cancel := context.WithTimeout(context.Background(), constants.MergeCheckTimeout)
	check, err := s.completion.PreMergeCheck(checkCtx, snap.WorktreePath, snap.BranchName, snap.BaseBranch)
	cancel()
	if err != nil {
		return nil, apperrors.TransientIO("pre-merge check", err)
	}
	outcome := &MergeOutcome{PreMerge: check}
	if !check.CanMerge {
		s.publish("worker.merge_blocked", map[string]any{"workerId": snap.ID, "errors": check.Errors})
		return outcome, nil
	}

	// CreatePR and local-merge are alternative ways to land a finished
	// branch, not sequential steps: a PR pushes the worktree's own branch
	// and leaves it for review on the host, while a local merge folds it
	// straight into the base branch's checkout and tears the worktree
	// down immediately. Picking both would merge locally and then open a
	// PR for a branch that no longer has anything left to review.
	if opts.CreatePR {
		prCtx, cancel := context.WithTimeout(context.Background(), constants.GitCommandTimeout)
		pr, err := s.completion.CreatePullRequest(prCtx, snap.WorktreePath, opts.PRTitle, opts.PRBody, snap.BaseBranch, false)
		cancel()
		if err != nil {
			return outcome, apperrors.TransientIO("create pull request", err)
		}
		outcome.PR = pr
		s.publish("worker.pr_created", map[string]any{"workerId": snap.ID, "prUrl": pr.PRURL})
		return outcome, nil
	}

	// Merge runs against the worktree's originating repository checkout,
	// not the worktree itself: a git worktree leaves the main checkout on
	// whatever branch it was on when the worktree was created — here, the
	// task's base branch — so folding the task branch in there is exactly
	// the local merge the base branch needs.
	mergeCtx, cancel := context.WithTimeout(context.Background(), constants.GitCommandTimeout)
	result, err := s.completion.Merge(mergeCtx, snap.RepoPath, snap.BranchName, completion.MergeOptions{
		Strategy:      opts.Strategy,
		CommitMessage: opts.CommitMessage,
		Push:          opts.Push,
	})
	cancel()
	if err != nil {
		return outcome, apperrors.TransientIO("merge", err)
	}
	outcome.Merge = result
	if !result.Success {
		s.publish("worker.merge_conflict", map[string]any{"workerId": snap.ID, "conflicts": result.Conflicts})
		return outcome, nil
	}
	s.publish("worker.merged", map[string]any{"workerId": snap.ID, "strategy": string(opts.Strategy)})

	teardownCtx, cancel := context.WithTimeout(context.Background(), constants.SessionTeardownTimeout)
	cleanup, err := s.completion.CleanupWorktree(teardownCtx, snap.WorktreePath, completion.CleanupOptions{
		RemoveBranch:   opts.RemoveBranch,
		RepositoryPath: snap.RepoPath,
	})
	cancel()
	if err != nil {
		s.logger.Warn("worktree cleanup failed", zap.String("workerId", snap.ID), zap.Error(err))
	} else {
		outcome.Cleanup = cleanup
	}

	return outcome, nil
}
