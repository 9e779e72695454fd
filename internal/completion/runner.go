// Package completion implements the completion/merge engine: pre-merge
// checks, ordered conflict detection, merge strategies, conflict
// resolution, worktree cleanup with auto-stash, and optional GitHub PR
// creation via the gh CLI.
//
// Grounded on the teacher's internal/agentctl/server/process.GitOperator
// (runGitCommand's combined stdout+stderr capture, parseConflictFiles'
// CONFLICT-line scraping, the tryLock single-operation guard, and CreatePR's
// gh-CLI invocation) and internal/worktree.Manager's non-interactive git
// environment (GIT_TERMINAL_PROMPT=0 and friends, to keep a completion run
// from ever blocking on a credential prompt).
package completion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// maxGitOutputBytes caps captured subprocess output, matching
// SPEC_FULL.md's "10 MiB output buffer cap" shared-resource policy for git
// subprocess invocations.
const maxGitOutputBytes = 10 << 20

// execGitRunner is the production ports.GitRunner: it shells out to the
// system git binary with a non-interactive environment so a completion run
// never blocks on a credential prompt.
type execGitRunner struct{}

// NewGitRunner returns the default subprocess-backed ports.GitRunner.
func NewGitRunner() ports.GitRunner {
	return execGitRunner{}
}

func (execGitRunner) Run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=Never",
		"GIT_ASKPASS=echo",
		"SSH_ASKPASS=/bin/false",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capped{w: &stdout, limit: maxGitOutputBytes}
	cmd.Stderr = &capped{w: &stderr, limit: maxGitOutputBytes}

	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}

// capped is an io.Writer that silently discards bytes past limit, so a
// runaway git process (e.g. a huge diff) can't exhaust memory.
type capped struct {
	w     io.Writer
	n     int
	limit int
}

func (c *capped) Write(p []byte) (int, error) {
	if c.n >= c.limit {
		return len(p), nil
	}
	remaining := c.limit - c.n
	if remaining > len(p) {
		remaining = len(p)
	}
	n, err := c.w.Write(p[:remaining])
	c.n += n
	return len(p), err
}

// combinedOutput runs a git command in dir and returns stdout+stderr
// concatenated, the shape most of the teacher's git parsing logic expects.
func combinedOutput(ctx context.Context, runner ports.GitRunner, dir string, args ...string) (string, error) {
	stdout, stderr, err := runner.Run(ctx, dir, args...)
	out := stdout
	if stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += stderr
	}
	return out, err
}
