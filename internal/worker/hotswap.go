package worker

import (
	"fmt"
	"strings"

	"github.com/kandev/orchestrion/internal/common/stringutil"
)

// SetAgent overwrites the session's agent identity and instructions. It
// appends a hot-swap marker system message and, unless preserveContext is
// true, truncates the log to only the initial init entry before appending
// the marker — discarding prior turns so the new agent starts clean.
func (s *Session) SetAgent(agentID, instructions string, preserveContext bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.previousAgent = s.info.AgentID
	s.info.AgentID = agentID
	s.info.AgentInstructions = instructions

	s.hotSwapLocked(fmt.Sprintf("agent changed to %s", agentID), preserveContext)
}

// SetModel overwrites the session's model identity, with the same marker
// and optional log-truncation semantics as SetAgent.
func (s *Session) SetModel(modelID string, preserveContext bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.ModelID = modelID
	s.hotSwapLocked(fmt.Sprintf("model changed to %s", modelID), preserveContext)
}

func (s *Session) hotSwapLocked(marker string, preserveContext bool) {
	if !preserveContext && len(s.log) > 0 {
		s.log = s.log[:1] // keep only the initial init message
		s.currentIx = -1
	}
	s.appendLog(LogEntry{Role: "system", Content: marker})
}

// ContextDigest builds the handover summary a newly swapped-in agent needs:
// the task text, the previous agent id, the last contextDigestCount "key"
// messages (user entries, non-bracketed assistant entries, and system
// entries mentioning "Error"), the pending approvals, and the last error.
// Each message is truncated to 200 characters with an ellipsis.
func (s *Session) ContextDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", s.info.Task)
	if s.previousAgent != "" {
		fmt.Fprintf(&b, "Previous agent: %s\n", s.previousAgent)
	}

	key := make([]string, 0, s.contextDigestCount)
	for i := len(s.log) - 1; i >= 0 && len(key) < s.contextDigestCount; i-- {
		e := s.log[i]
		if !isKeyMessage(e) {
			continue
		}
		key = append(key, fmt.Sprintf("[%s] %s", e.Role, stringutil.TruncateStringWithEllipsis(e.Content, 200)))
	}
	for i := len(key) - 1; i >= 0; i-- {
		b.WriteString(key[i])
		b.WriteByte('\n')
	}

	if len(s.approvals) > 0 {
		fmt.Fprintf(&b, "Pending approvals: %d\n", len(s.approvals))
	}
	if s.lastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", stringutil.TruncateStringWithEllipsis(s.lastError, 200))
	}
	return b.String()
}

func isKeyMessage(e LogEntry) bool {
	switch e.Role {
	case "user":
		return true
	case "assistant":
		return !strings.HasPrefix(strings.TrimSpace(e.Content), "[")
	case "system":
		return strings.Contains(e.Content, "Error")
	default:
		return false
	}
}
