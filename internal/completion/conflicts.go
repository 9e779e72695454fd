package completion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// ConflictType discriminates why a conflict was detected.
type ConflictType string

const (
	ConflictTypeMerge       ConflictType = "merge"
	ConflictTypeRebase      ConflictType = "rebase"
	ConflictTypeUncommitted ConflictType = "uncommitted"
	ConflictTypeDiverged    ConflictType = "diverged"
)

// ConflictInfo describes the outcome of conflict detection.
type ConflictInfo struct {
	HasConflicts bool
	ConflictType ConflictType
	Files        []string
}

// blocking reports whether this conflict type should block a merge:
// merge/rebase/diverged are blocking, uncommitted is a warning only.
func (c *ConflictInfo) blocking() bool {
	if c == nil || !c.HasConflicts {
		return false
	}
	switch c.ConflictType {
	case ConflictTypeMerge, ConflictTypeRebase, ConflictTypeDiverged:
		return true
	default:
		return false
	}
}

// DetectConflicts runs the conflict-detection sequence in the documented
// order, stopping at the first hit: an in-progress merge, then an
// in-progress rebase, then uncommitted changes, then divergence (no common
// ancestor), then a dry-run merge against targetBranch.
//
// Grounded on the teacher's GitOperator: MERGE_HEAD/REBASE_HEAD presence
// checks generalize its Abort operation's operation-name switch, and the
// dry-run-then-parse step is grounded directly on parseConflictFiles'
// "CONFLICT (content): Merge conflict in <file>" scraping, extended to also
// catch "deleted" conflicts and "Auto-merging <file>" lines that mention a
// conflict, and deduped since a dry-run can repeat file names across
// sections of its output.
func (e *Engine) DetectConflicts(ctx context.Context, dir, targetBranch string) (*ConflictInfo, error) {
	if inProgressFileExists(dir, "MERGE_HEAD") {
		files, _ := e.conflictedFiles(ctx, dir)
		return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeMerge, Files: files}, nil
	}
	if inProgressFileExists(dir, "REBASE_HEAD") {
		files, _ := e.conflictedFiles(ctx, dir)
		return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeRebase, Files: files}, nil
	}

	dirty, files, err := e.uncommittedFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	if dirty {
		return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeUncommitted, Files: files}, nil
	}

	base, err := combinedOutput(ctx, e.runner, dir, "merge-base", "HEAD", targetBranch)
	if err != nil || strings.TrimSpace(base) == "" {
		return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeDiverged}, nil
	}

	return e.dryRunMerge(ctx, dir, targetBranch)
}

// dryRunMerge attempts the merge with --no-commit --no-ff, parses the
// output for conflict markers, then always aborts and restores the
// original branch regardless of outcome.
func (e *Engine) dryRunMerge(ctx context.Context, dir, targetBranch string) (*ConflictInfo, error) {
	originalRef, err := combinedOutput(ctx, e.runner, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	originalRef = strings.TrimSpace(originalRef)

	output, mergeErr := combinedOutput(ctx, e.runner, dir, "merge", "--no-commit", "--no-ff", targetBranch)
	_, _ = combinedOutput(ctx, e.runner, dir, "merge", "--abort")
	if originalRef != "" {
		_, _ = combinedOutput(ctx, e.runner, dir, "checkout", originalRef)
	}

	if mergeErr == nil {
		return &ConflictInfo{HasConflicts: false}, nil
	}

	files := parseConflictFiles(output)
	if len(files) == 0 {
		// merge failed for a reason other than content conflicts (e.g.
		// network error on a remote ref); surface it as a diverged-style
		// block rather than silently reporting no conflicts.
		return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeDiverged}, nil
	}
	return &ConflictInfo{HasConflicts: true, ConflictType: ConflictTypeMerge, Files: files}, nil
}

func inProgressFileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git", name))
	return err == nil
}

func (e *Engine) conflictedFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := combinedOutput(ctx, e.runner, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (e *Engine) uncommittedFiles(ctx context.Context, dir string) (bool, []string, error) {
	output, err := combinedOutput(ctx, e.runner, dir, "status", "--porcelain")
	if err != nil {
		return false, nil, err
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return len(files) > 0, files, nil
}

// parseConflictFiles scrapes conflict file names out of merge/rebase
// output: "CONFLICT (content): Merge conflict in <file>", "CONFLICT ...
// <file> deleted", and "Auto-merging <file>" lines that mention a
// conflict, deduped in encounter order.
func parseConflictFiles(output string) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		files = append(files, f)
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONFLICT"):
			if idx := strings.Index(line, "Merge conflict in "); idx != -1 {
				add(line[idx+len("Merge conflict in "):])
				continue
			}
			if strings.HasSuffix(line, "deleted") {
				// "CONFLICT (modify/delete): <file> deleted in ..."
				rest := strings.TrimPrefix(line, "CONFLICT")
				if idx := strings.Index(rest, ":"); idx != -1 {
					rest = rest[idx+1:]
				}
				fields := strings.Fields(rest)
				if len(fields) > 0 {
					add(fields[0])
				}
			}
		case strings.HasPrefix(line, "Auto-merging") && strings.Contains(strings.ToLower(line), "conflict"):
			add(strings.TrimSpace(strings.TrimPrefix(line, "Auto-merging")))
		}
	}
	return files
}
