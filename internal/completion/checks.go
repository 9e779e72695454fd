package completion

import (
	"context"
	"strings"
)

// PreMergeCheck summarizes whether sourceBranch can be merged into
// targetBranch, and why not when it cannot.
type PreMergeCheck struct {
	CanMerge           bool
	Conflicts          *ConflictInfo
	SourceBranchExists bool
	TargetBranchExists bool
	IsCleanWorkingTree bool
	Warnings           []string
	Errors             []string
}

// PreMergeCheck runs the full set of pre-merge checks for sourceBranch
// against targetBranch in the worktree at dir.
//
// CanMerge = len(Errors) == 0 && no blocking conflict. A blocking conflict
// is any ConflictInfo whose type is merge/rebase/diverged; an uncommitted
// conflict is reported as a warning only.
func (e *Engine) PreMergeCheck(ctx context.Context, dir, sourceBranch, targetBranch string) (*PreMergeCheck, error) {
	check := &PreMergeCheck{}

	check.SourceBranchExists = e.branchExists(ctx, dir, sourceBranch)
	check.TargetBranchExists = e.branchExists(ctx, dir, targetBranch)

	if !check.SourceBranchExists {
		check.Errors = append(check.Errors, "source branch does not exist: "+sourceBranch)
	}
	if !check.TargetBranchExists {
		check.Errors = append(check.Errors, "target branch does not exist: "+targetBranch)
	}
	if len(check.Errors) > 0 {
		return check, nil
	}

	conflicts, err := e.DetectConflicts(ctx, dir, targetBranch)
	if err != nil {
		return nil, err
	}
	check.Conflicts = conflicts
	check.IsCleanWorkingTree = !(conflicts.HasConflicts && conflicts.ConflictType == ConflictTypeUncommitted)

	if conflicts.HasConflicts {
		if conflicts.blocking() {
			check.Errors = append(check.Errors, "conflicts detected: "+string(conflicts.ConflictType))
		} else {
			check.Warnings = append(check.Warnings, "uncommitted changes present in worktree")
		}
	}

	check.CanMerge = len(check.Errors) == 0 && !conflicts.blocking()
	return check, nil
}

func (e *Engine) branchExists(ctx context.Context, dir, branch string) bool {
	_, err := combinedOutput(ctx, e.runner, dir, "rev-parse", "--verify", "--quiet", strings.TrimSpace(branch))
	return err == nil
}
