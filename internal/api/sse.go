package api

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// chatEventKind discriminates the frames POST /api/chat and the worker
// stream endpoint emit, per spec.md §6's {type:"part"|"clear"|"close"|
// "error"|"warning", ...} contract.
type chatEventKind string

const (
	chatEventPart    chatEventKind = "part"
	chatEventClear   chatEventKind = "clear"
	chatEventClose   chatEventKind = "close"
	chatEventError   chatEventKind = "error"
	chatEventWarning chatEventKind = "warning"
)

type chatEvent struct {
	Type chatEventKind       `json:"type"`
	Part *ports.ResponsePart `json:"part,omitempty"`
	Text string              `json:"text,omitempty"`
}

// channelSink is a ports.ResponseSink that forwards every emitted part onto
// a buffered channel a gin SSE loop drains, so the worker session's
// internal debounce/replay machinery never touches net/http directly.
type channelSink struct {
	events chan chatEvent
}

func newChannelSink() *channelSink {
	return &channelSink{events: make(chan chatEvent, 64)}
}

func (s *channelSink) Emit(ctx context.Context, part ports.ResponsePart) error {
	select {
	case s.events <- chatEvent{Type: chatEventPart, Part: &part}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *channelSink) Close() error {
	close(s.events)
	return nil
}

// streamSSE drains sink.events onto c as server-sent events until the
// channel closes or the client disconnects, at which point cancel is
// invoked so the bound worker's turn is interrupted.
func streamSSE(c *gin.Context, sink *channelSink, cancel context.CancelFunc) {
	defer cancel()
	sseHeaders(c)
	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-sink.events:
			if !open {
				return false
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return true
			}
			c.SSEvent(string(ev.Type), string(payload))
			return true
		case <-clientGone:
			return false
		}
	})
}
