package completion

import (
	"context"
	"fmt"
)

// ConflictResolution picks which side wins when resolving a conflicted
// file wholesale.
type ConflictResolution string

const (
	ResolveOurs   ConflictResolution = "ours"
	ResolveTheirs ConflictResolution = "theirs"
)

// ResolveResult reports which files were resolved.
type ResolveResult struct {
	Success       bool
	ResolvedFiles []string
	Error         string
}

// ResolveConflicts resolves the given files (or all conflicted files, if
// files is empty) by checking out the ours/theirs side and staging the
// result. Succeeds as a no-op when there is nothing conflicted to
// resolve.
func (e *Engine) ResolveConflicts(ctx context.Context, dir string, strategy ConflictResolution, files []string) (*ResolveResult, error) {
	if strategy != ResolveOurs && strategy != ResolveTheirs {
		return nil, fmt.Errorf("completion: unknown conflict resolution %q", strategy)
	}
	if !e.tryLock(dir) {
		return nil, &ErrOperationInProgress{Path: dir}
	}
	defer e.unlock(dir)

	targets := files
	if len(targets) == 0 {
		resolved, err := e.conflictedFiles(ctx, dir)
		if err != nil {
			return nil, err
		}
		targets = resolved
	}
	if len(targets) == 0 {
		return &ResolveResult{Success: true}, nil
	}

	args := append([]string{"checkout", "--" + string(strategy), "--"}, targets...)
	if _, err := combinedOutput(ctx, e.runner, dir, args...); err != nil {
		return &ResolveResult{Error: err.Error()}, nil
	}

	addArgs := append([]string{"add"}, targets...)
	if _, err := combinedOutput(ctx, e.runner, dir, addArgs...); err != nil {
		return &ResolveResult{Error: err.Error()}, nil
	}

	return &ResolveResult{Success: true, ResolvedFiles: targets}, nil
}
