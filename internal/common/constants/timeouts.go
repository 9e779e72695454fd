// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// WorkerLaunchTimeout is the maximum time to wait for a worker session to
	// start, including worktree creation and setup script execution.
	WorkerLaunchTimeout = 6 * time.Minute

	// SetupScriptTimeout is the maximum time to wait for a setup script to complete.
	SetupScriptTimeout = 5 * time.Minute

	// CleanupScriptTimeout is the maximum time to wait for a cleanup script to complete.
	CleanupScriptTimeout = 5 * time.Minute

	// SessionTeardownTimeout is the maximum time to wait for worker session
	// teardown, including cleanup scripts and worktree removal.
	SessionTeardownTimeout = 2 * time.Minute

	// TurnTimeout is the maximum time to wait for a worker to complete a turn.
	// Turns can take a long time (complex code generation, large refactors),
	// so this is set to a generous value.
	TurnTimeout = 60 * time.Minute

	// AckTimeout is the default time a dispatched message waits for an
	// acknowledgement before the queue treats delivery as failed.
	AckTimeout = 30 * time.Second

	// MergeCheckTimeout bounds pre-merge conflict detection and dry-run merges.
	MergeCheckTimeout = 30 * time.Second

	// GitCommandTimeout bounds any single git subprocess invocation.
	GitCommandTimeout = 60 * time.Second
)
