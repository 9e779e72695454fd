package worker

// clarificationState implements the session's clarification channel:
// waitForClarification returns immediately if text is already pending, else
// parks the caller on waiter until sendClarification arrives or the session
// reaches a terminal state.
type clarificationState struct {
	pending string
	have    bool
	waiter  chan string
}

// WaitForClarification blocks until clarification text is available, either
// because it was already pending or because SendClarification delivers it.
// Returns ("", false) if the session reached a terminal state first.
func (s *Session) WaitForClarification() (string, bool) {
	s.mu.Lock()
	if s.clarification.have {
		text := s.clarification.pending
		s.clarification.pending = ""
		s.clarification.have = false
		s.mu.Unlock()
		return text, true
	}
	waiter := make(chan string, 1)
	s.clarification.waiter = waiter
	s.mu.Unlock()

	text, ok := <-waiter
	return text, ok
}

// SendClarification wakes a parked waiter if one exists, otherwise stores
// the text for the next WaitForClarification call. The text is also
// appended to the log as a user message. A no-op once the session has
// reached a terminal state: its waiter was already released with no value
// on that transition, and no write to the message log succeeds past it.
func (s *Session) SendClarification(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isTerminal() {
		return
	}

	s.appendLog(LogEntry{Role: "user", Content: text})

	if s.clarification.waiter != nil {
		w := s.clarification.waiter
		s.clarification.waiter = nil
		w <- text
		close(w)
		return
	}
	s.clarification.pending = text
	s.clarification.have = true
}

// releaseClarificationLocked wakes any parked waiter with a closed, empty
// channel, signalling that no clarification is coming. Called on every
// terminal transition and on interrupt, per the state machine's "terminal
// states release any clarification waiter" rule.
func (s *Session) releaseClarificationLocked() {
	if s.clarification.waiter != nil {
		w := s.clarification.waiter
		s.clarification.waiter = nil
		close(w)
	}
}
