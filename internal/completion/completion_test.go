package completion

import (
	"context"
	"strings"
	"testing"

	"github.com/kandev/orchestrion/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// fakeRunner scripts git command responses by joining args with a space
// and looking up the exact string, falling back to a prefix match so a
// test only needs to script the commands it cares about.
type fakeRunner struct {
	exact    map[string]scriptedResult
	prefixes []prefixedResult
	calls    []string
}

type scriptedResult struct {
	stdout string
	stderr string
	err    error
}

type prefixedResult struct {
	prefix string
	result scriptedResult
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if r, ok := f.exact[key]; ok {
		return r.stdout, r.stderr, r.err
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(key, p.prefix) {
			return p.result.stdout, p.result.stderr, p.result.err
		}
	}
	return "", "", nil
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{exact: map[string]scriptedResult{}}
}

func newEngine(t *testing.T, runner *fakeRunner) *Engine {
	t.Helper()
	return New(Options{Runner: runner, Logger: newTestLogger(t)})
}

func TestDetectConflictsCleanMerge(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["diff --name-only --diff-filter=U"] = scriptedResult{}
	runner.exact["status --porcelain"] = scriptedResult{}
	runner.exact["merge-base HEAD main"] = scriptedResult{stdout: "abc123\n"}
	runner.exact["rev-parse --abbrev-ref HEAD"] = scriptedResult{stdout: "feature\n"}
	runner.exact["merge --no-commit --no-ff main"] = scriptedResult{}
	runner.exact["merge --abort"] = scriptedResult{}
	runner.exact["checkout feature"] = scriptedResult{}

	e := newEngine(t, runner)
	info, err := e.DetectConflicts(context.Background(), "/repo", "main")
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if info.HasConflicts {
		t.Fatalf("expected no conflicts, got %+v", info)
	}
}

func TestDetectConflictsParsesDryRunOutput(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["status --porcelain"] = scriptedResult{}
	runner.exact["merge-base HEAD main"] = scriptedResult{stdout: "abc123\n"}
	runner.exact["rev-parse --abbrev-ref HEAD"] = scriptedResult{stdout: "feature\n"}
	runner.exact["merge --no-commit --no-ff main"] = scriptedResult{
		stdout: "Auto-merging a.go\nCONFLICT (content): Merge conflict in a.go\nAutomatic merge failed",
		err:    errTest{},
	}
	runner.exact["merge --abort"] = scriptedResult{}
	runner.exact["checkout feature"] = scriptedResult{}

	e := newEngine(t, runner)
	info, err := e.DetectConflicts(context.Background(), "/repo", "main")
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if !info.HasConflicts || info.ConflictType != ConflictTypeMerge {
		t.Fatalf("expected merge conflict, got %+v", info)
	}
	if len(info.Files) != 1 || info.Files[0] != "a.go" {
		t.Fatalf("expected [a.go], got %v", info.Files)
	}
}

func TestDetectConflictsUncommittedIsNotBlockingButReported(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["status --porcelain"] = scriptedResult{stdout: " M dirty.go\n"}

	e := newEngine(t, runner)
	info, err := e.DetectConflicts(context.Background(), "/repo", "main")
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if !info.HasConflicts || info.ConflictType != ConflictTypeUncommitted {
		t.Fatalf("expected uncommitted conflict, got %+v", info)
	}
	if info.blocking() {
		t.Fatal("uncommitted changes must not block a merge")
	}
}

func TestDetectConflictsDivergedWhenNoCommonAncestor(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["status --porcelain"] = scriptedResult{}
	runner.exact["merge-base HEAD main"] = scriptedResult{err: errTest{}}

	e := newEngine(t, runner)
	info, err := e.DetectConflicts(context.Background(), "/repo", "main")
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if !info.HasConflicts || info.ConflictType != ConflictTypeDiverged || !info.blocking() {
		t.Fatalf("expected blocking diverged conflict, got %+v", info)
	}
}

func TestPreMergeCheckFailsFastWhenBranchMissing(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["rev-parse --verify --quiet source"] = scriptedResult{err: errTest{}}
	runner.exact["rev-parse --verify --quiet main"] = scriptedResult{}

	e := newEngine(t, runner)
	check, err := e.PreMergeCheck(context.Background(), "/repo", "source", "main")
	if err != nil {
		t.Fatalf("PreMergeCheck: %v", err)
	}
	if check.CanMerge {
		t.Fatal("expected CanMerge false when source branch is missing")
	}
	if len(check.Errors) != 1 {
		t.Fatalf("expected one error, got %v", check.Errors)
	}
}

func TestMergeAbortsAndRestoresOnConflict(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["merge --no-ff feature"] = scriptedResult{
		stdout: "CONFLICT (content): Merge conflict in a.go",
		err:    errTest{},
	}
	runner.exact["merge --abort"] = scriptedResult{}

	e := newEngine(t, runner)
	result, err := e.Merge(context.Background(), "/repo", "feature", MergeOptions{Strategy: MergeStrategyMerge})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Success {
		t.Fatal("expected merge to fail on conflict")
	}
	if result.Conflicts == nil || len(result.Conflicts.Files) != 1 {
		t.Fatalf("expected parsed conflict files, got %+v", result.Conflicts)
	}

	found := false
	for _, c := range runner.calls {
		if c == "merge --abort" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected merge --abort to have been called")
	}
}

func TestMergeSurfacesPushFailureButReportsSuccess(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["merge --no-ff feature"] = scriptedResult{}
	runner.exact["push"] = scriptedResult{err: errTest{}}

	e := newEngine(t, runner)
	result, err := e.Merge(context.Background(), "/repo", "feature", MergeOptions{Strategy: MergeStrategyMerge, Push: true})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success despite push failure")
	}
	if !strings.HasPrefix(result.Error, "push failed:") {
		t.Fatalf("expected push failed error, got %q", result.Error)
	}
}

func TestResolveConflictsNoOpWhenClean(t *testing.T) {
	runner := newFakeRunner()
	runner.exact["diff --name-only --diff-filter=U"] = scriptedResult{}

	e := newEngine(t, runner)
	result, err := e.ResolveConflicts(context.Background(), "/repo", ResolveOurs, nil)
	if err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}
	if !result.Success || len(result.ResolvedFiles) != 0 {
		t.Fatalf("expected no-op success, got %+v", result)
	}
}

func TestResolveConflictsCheckoutAndStage(t *testing.T) {
	runner := newFakeRunner()
	runner.prefixes = []prefixedResult{
		{prefix: "checkout --ours --", result: scriptedResult{}},
		{prefix: "add ", result: scriptedResult{}},
	}

	e := newEngine(t, runner)
	result, err := e.ResolveConflicts(context.Background(), "/repo", ResolveOurs, []string{"a.go", "b.go"})
	if err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}
	if !result.Success || len(result.ResolvedFiles) != 2 {
		t.Fatalf("expected both files resolved, got %+v", result)
	}
}

func TestCleanupWorktreeAbortsOnFailedStash(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner()
	runner.exact["status --porcelain"] = scriptedResult{stdout: " M dirty.go\n"}
	runner.exact["stash push -u -m Auto-stash before worktree removal"] = scriptedResult{err: errTest{}}

	e := newEngine(t, runner)
	result, err := e.CleanupWorktree(context.Background(), dir, CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupWorktree: %v", err)
	}
	if result.Success {
		t.Fatal("expected cleanup to fail when auto-stash fails")
	}
}

func TestTryLockPreventsConcurrentOperationsOnSamePath(t *testing.T) {
	e := newEngine(t, newFakeRunner())
	if !e.tryLock("/repo") {
		t.Fatal("expected first lock to succeed")
	}
	if e.tryLock("/repo") {
		t.Fatal("expected second lock on same path to fail")
	}
	e.unlock("/repo")
	if !e.tryLock("/repo") {
		t.Fatal("expected lock to succeed again after unlock")
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
