package completion

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// PRResult reports the outcome of a pull-request creation attempt.
type PRResult struct {
	Success bool
	PRURL   string
	Number  int
	Output  string
	Error   string
}

var prURLNumberRegex = regexp.MustCompile(`https://github\.com/[^/\s]+/[^/\s]+/pull/(\d+)`)

// CreatePullRequest pushes the current branch and creates a pull request
// against baseBranch via the gh CLI.
//
// Grounded on the teacher's GitOperator.CreatePR: push --set-upstream
// before pr create, stripping a remote prefix from baseBranch, and using
// filterGitEnv so gh reads branch state from the worktree rather than an
// inherited GIT_DIR/GIT_WORK_TREE. The pack adds PR-number extraction
// from the returned URL for callers that want to link back to it.
func (e *Engine) CreatePullRequest(ctx context.Context, dir, title, body, baseBranch string, draft bool) (*PRResult, error) {
	if !e.tryLock(dir) {
		return nil, &ErrOperationInProgress{Path: dir}
	}
	defer e.unlock(dir)

	result := &PRResult{}

	pushOutput, err := combinedOutput(ctx, e.runner, dir, "push", "--set-upstream", "origin", "HEAD")
	if err != nil {
		result.Error = "failed to push branch: " + err.Error()
		result.Output = pushOutput
		return result, nil
	}

	branch, err := combinedOutput(ctx, e.runner, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		result.Error = "failed to determine current branch: " + err.Error()
		return result, nil
	}
	branch = strings.TrimSpace(branch)

	args := []string{"pr", "create", "--title", title, "--body", body, "--head", branch}
	cleanBase := strings.TrimPrefix(baseBranch, "origin/")
	if cleanBase != "" {
		args = append(args, "--base", cleanBase)
	}
	if draft {
		args = append(args, "--draft")
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	cmd.Env = filterGitEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		result.Error = fmt.Sprintf("%s: %s", err.Error(), strings.TrimSpace(stderr.String()))
		result.Output = stdout.String() + stderr.String()
		return result, nil
	}

	url := strings.TrimSpace(stdout.String())
	result.Output = url
	result.PRURL = url
	result.Success = true
	if m := prURLNumberRegex.FindStringSubmatch(url); len(m) == 2 {
		fmt.Sscanf(m[1], "%d", &result.Number)
	}

	e.logger.Info("pull request created", zap.String("url", url))
	return result, nil
}

// filterGitEnv strips GIT_DIR and GIT_WORK_TREE from the environment so gh
// resolves the repository from the worktree's own .git file rather than an
// inherited override, matching the teacher's handling when invoking gh
// from inside a worktree.
func filterGitEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_DIR=") || strings.HasPrefix(kv, "GIT_WORK_TREE=") {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}
