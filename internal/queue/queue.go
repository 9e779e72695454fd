// Package queue implements the priority message queue: a single
// cooperative dispatcher goroutine draining a priority heap of messages,
// backed by atomic JSON snapshot persistence.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/constants"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// SchemaVersion is the on-disk snapshot format version.
const SchemaVersion = 1

var (
	// ErrQueueFull is returned when enqueue is attempted at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrMessageNotFound reports an unknown message ID. For an unknown ID,
	// Acknowledge returns ErrNotAwaitingAck and CancelMessage returns false.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotAwaitingAck is returned by acknowledge when the message isn't pending ack.
	ErrNotAwaitingAck = errors.New("message is not awaiting acknowledgment")
)

// Handler delivers a message to its receiver. An error triggers the retry
// loop; success may still require an out-of-band acknowledge call.
type Handler func(ctx context.Context, msg *model.Message) error

// Unregister removes a previously registered handler.
type Unregister func()

// EventType enumerates the queue's lifecycle notifications.
type EventType string

const (
	EventEnqueued     EventType = "enqueued"
	EventDelivered    EventType = "delivered"
	EventFailed       EventType = "failed"
	EventExpired      EventType = "expired"
	EventAcknowledged EventType = "acknowledged"
	EventDropped      EventType = "dropped"
)

// Event is emitted to subscribers on queue lifecycle transitions.
type Event struct {
	Type     EventType
	Message  *model.Message
	Duration time.Duration
	Err      error
}

// Listener receives queue events. Panics inside a listener are recovered
// and logged so one bad subscriber cannot take down the dispatcher.
type Listener func(Event)

// Metrics holds the queue's running counters, refreshed under mu.
type Metrics struct {
	Enqueued          uint64                   `json:"enqueued"`
	Delivered         uint64                   `json:"delivered"`
	Failed            uint64                   `json:"failed"`
	Expired           uint64                   `json:"expired"`
	Depth             int                      `json:"depth"`
	DepthByPriority    map[model.Priority]int   `json:"depthByPriority"`
	AvgDeliveryMillis float64                  `json:"avgDeliveryMillis"` // exponential moving average
}

// Options configures a Queue instance.
type Options struct {
	MaxSize          int
	PersistPath      string
	PersistEnabled   bool
	SweepInterval    time.Duration
	DefaultAck       time.Duration
	MaxRetryBackoff  time.Duration
	Clock            ports.Clock
	Logger           *logger.Logger
}

// Queue is the priority message queue described by the orchestration
// core: a single dispatcher goroutine delivers messages in heap order;
// the heap and its maps are guarded by mu, and callers interact through
// the thread-safe methods below.
type Queue struct {
	opts   Options
	logger *logger.Logger
	clock  ports.Clock

	mu           sync.Mutex
	heap         messageHeap
	index        map[string]*queuedMessage // messageID -> heap entry
	pendingAck   map[string]*ackEntry
	processedIDs map[string]struct{}
	handlers     map[string]Handler
	metrics      Metrics
	seq          uint64

	listenersMu sync.Mutex
	listeners   []Listener

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	closeOnce sync.Once
}

type ackEntry struct {
	msg     *model.Message
	timer   *time.Timer
	created time.Time
}

// New constructs a Queue and restores any persisted snapshot. Callers must
// call Run to start the dispatcher goroutine.
func New(opts Options) (*Queue, error) {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.DefaultAck <= 0 {
		opts.DefaultAck = constants.AckTimeout
	}
	if opts.MaxRetryBackoff <= 0 {
		opts.MaxRetryBackoff = 30 * time.Second
	}

	q := &Queue{
		opts:         opts,
		logger:       opts.Logger.WithFields(zap.String("component", "queue")),
		clock:        opts.Clock,
		index:        make(map[string]*queuedMessage),
		pendingAck:   make(map[string]*ackEntry),
		processedIDs: make(map[string]struct{}),
		handlers:     make(map[string]Handler),
		metrics:      Metrics{DepthByPriority: make(map[model.Priority]int)},
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	heap.Init(&q.heap)

	if opts.PersistEnabled && opts.PersistPath != "" {
		if err := q.restore(); err != nil {
			return nil, fmt.Errorf("restore queue snapshot: %w", err)
		}
	}

	return q, nil
}

// Subscribe registers a listener for queue lifecycle events.
func (q *Queue) Subscribe(l Listener) Unregister {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	q.listeners = append(q.listeners, l)
	idx := len(q.listeners) - 1
	return func() {
		q.listenersMu.Lock()
		defer q.listenersMu.Unlock()
		if idx < len(q.listeners) {
			q.listeners[idx] = nil
		}
	}
}

func (q *Queue) emit(ev Event) {
	q.listenersMu.Lock()
	listeners := make([]Listener, len(q.listeners))
	copy(listeners, q.listeners)
	q.listenersMu.Unlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("queue listener panicked", zap.Any("recover", r))
				}
			}()
			l(ev)
		}()
	}
}

// EnqueueOptions carries the fields a caller supplies to enqueue; the queue
// fills in ID, status, and metadata defaults.
type EnqueueOptions struct {
	Type            model.MessageType
	Priority        model.Priority
	Sender          model.AgentIdentifier
	Receiver        model.AgentIdentifier
	Content         string
	DeliveryOptions *model.DeliveryOptions
	PlanID          string
	TaskID          string
	SubtaskID       string
	Depth           int
	CorrelationID   string
	TraceID         string
	SpanID          string
	// ID lets the router/persistence layer request a stable ID (e.g. on
	// restore replay); empty means generate a fresh one.
	ID string
}

// Enqueue appends a new message to the queue, assigning defaults, and
// wakes the dispatcher. Returns ErrQueueFull at capacity.
func (q *Queue) Enqueue(opts EnqueueOptions) (*model.Message, error) {
	q.mu.Lock()

	if q.opts.MaxSize > 0 && len(q.heap) >= q.opts.MaxSize {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}

	delivery := model.DefaultDeliveryOptions()
	if opts.DeliveryOptions != nil {
		delivery = *opts.DeliveryOptions
	}
	if delivery.Timeout <= 0 {
		delivery.Timeout = q.opts.DefaultAck
	}

	id := opts.ID
	if id == "" {
		id = q.nextID()
	}

	msg := &model.Message{
		ID:              id,
		Type:            opts.Type,
		Priority:        opts.Priority,
		Status:          model.MessageStatusPending,
		Sender:          opts.Sender,
		Receiver:        opts.Receiver,
		Content:         opts.Content,
		DeliveryOptions: delivery,
		PlanID:          opts.PlanID,
		TaskID:          opts.TaskID,
		SubtaskID:       opts.SubtaskID,
		Depth:           opts.Depth,
		Metadata: model.MessageMetadata{
			CreatedAt:     q.clock.Now(),
			CorrelationID: opts.CorrelationID,
			TraceID:       opts.TraceID,
			SpanID:        opts.SpanID,
		},
	}

	qm := &queuedMessage{msg: msg, seq: q.seq}
	q.seq++
	heap.Push(&q.heap, qm)
	q.index[msg.ID] = qm
	q.metrics.Enqueued++
	q.metrics.Depth = len(q.heap)
	q.metrics.DepthByPriority[msg.Priority]++

	q.mu.Unlock()

	q.persistBestEffort()
	q.emit(Event{Type: EventEnqueued, Message: msg})
	q.wake()

	return msg, nil
}

func (q *Queue) nextID() string {
	// Monotonic, process-unique: sequence + nanosecond timestamp.
	return fmt.Sprintf("msg-%d-%d", q.clock.Now().UnixNano(), q.seq)
}

// RegisterHandler registers a delivery handler for agentID. Registration
// wakes the dispatcher so it can rescan for messages already addressed to
// this receiver.
func (q *Queue) RegisterHandler(agentID string, handler Handler) Unregister {
	q.mu.Lock()
	q.handlers[agentID] = handler
	q.mu.Unlock()

	q.wake()

	return func() {
		q.mu.Lock()
		delete(q.handlers, agentID)
		q.mu.Unlock()
	}
}

// Acknowledge resolves a message that is awaiting acknowledgment.
func (q *Queue) Acknowledge(messageID, acknowledger string, success bool, ackErr error) error {
	q.mu.Lock()
	entry, ok := q.pendingAck[messageID]
	if !ok {
		q.mu.Unlock()
		return ErrNotAwaitingAck
	}
	entry.timer.Stop()
	delete(q.pendingAck, messageID)

	now := q.clock.Now()
	entry.msg.Metadata.AcknowledgedAt = &now
	if success {
		entry.msg.Status = model.MessageStatusAcknowledged
	} else {
		entry.msg.Status = model.MessageStatusFailed
		if ackErr != nil {
			entry.msg.Metadata.LastError = ackErr.Error()
		}
		q.metrics.Failed++
	}
	q.processedIDs[messageID] = struct{}{}
	msg := entry.msg
	q.mu.Unlock()

	q.persistBestEffort()
	q.emit(Event{Type: EventAcknowledged, Message: msg, Err: ackErr})
	return nil
}

// CancelMessage removes id from the queue and/or the pending-ack map.
// Idempotent: cancelling an unknown or already-removed ID is not an error,
// reported by the returned bool being false rather than true.
func (q *Queue) CancelMessage(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false
	if qm, ok := q.index[id]; ok {
		heap.Remove(&q.heap, qm.heapIndex)
		delete(q.index, id)
		q.metrics.Depth = len(q.heap)
		q.metrics.DepthByPriority[qm.msg.Priority]--
		removed = true
	}
	if entry, ok := q.pendingAck[id]; ok {
		entry.timer.Stop()
		delete(q.pendingAck, id)
		removed = true
	}

	q.persistBestEffortLocked()
	return removed, nil
}

// GetMetrics returns a snapshot of the queue's counters.
func (q *Queue) GetMetrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	depthByPriority := make(map[model.Priority]int, len(q.metrics.DepthByPriority))
	for k, v := range q.metrics.DepthByPriority {
		depthByPriority[k] = v
	}
	m := q.metrics
	m.DepthByPriority = depthByPriority
	return m
}

// Clear empties the queue and pending-ack map. Testing escape hatch.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = q.heap[:0]
	heap.Init(&q.heap)
	q.index = make(map[string]*queuedMessage)
	for _, entry := range q.pendingAck {
		entry.timer.Stop()
	}
	q.pendingAck = make(map[string]*ackEntry)
	q.processedIDs = make(map[string]struct{})
	q.metrics = Metrics{DepthByPriority: make(map[model.Priority]int)}

	q.persistBestEffortLocked()
}

// Close stops the dispatcher goroutine and releases pending timers.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.stopCh)
		<-q.doneCh

		q.mu.Lock()
		for _, entry := range q.pendingAck {
			entry.timer.Stop()
		}
		q.mu.Unlock()
	})
}

func (q *Queue) wake() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// persistence

type snapshot struct {
	SchemaVersion int             `json:"schemaVersion"`
	Messages      []*model.Message `json:"messages"`
	ProcessedIDs  []string        `json:"processedIds"`
	Metrics       Metrics         `json:"metrics"`
}

func (q *Queue) persistBestEffort() {
	if !q.opts.PersistEnabled || q.opts.PersistPath == "" {
		return
	}
	q.mu.Lock()
	snap := q.snapshotLocked()
	q.mu.Unlock()
	if err := writeSnapshotAtomic(q.opts.PersistPath, snap); err != nil {
		q.logger.Warn("failed to persist queue snapshot", zap.Error(err))
	}
}

func (q *Queue) persistBestEffortLocked() {
	if !q.opts.PersistEnabled || q.opts.PersistPath == "" {
		return
	}
	snap := q.snapshotLocked()
	if err := writeSnapshotAtomic(q.opts.PersistPath, snap); err != nil {
		q.logger.Warn("failed to persist queue snapshot", zap.Error(err))
	}
}

func (q *Queue) snapshotLocked() snapshot {
	messages := make([]*model.Message, 0, len(q.heap)+len(q.pendingAck))
	for _, qm := range q.heap {
		messages = append(messages, qm.msg)
	}
	for _, entry := range q.pendingAck {
		messages = append(messages, entry.msg)
	}
	processed := make([]string, 0, len(q.processedIDs))
	for id := range q.processedIDs {
		processed = append(processed, id)
	}
	return snapshot{
		SchemaVersion: SchemaVersion,
		Messages:      messages,
		ProcessedIDs:  processed,
		Metrics:       q.metrics,
	}
}

func writeSnapshotAtomic(path string, snap snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".queue-snapshot-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (q *Queue) restore() error {
	data, err := os.ReadFile(q.opts.PersistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("corrupt queue snapshot: %w", err)
	}
	if snap.SchemaVersion != 0 && snap.SchemaVersion != SchemaVersion {
		q.logger.Warn("queue snapshot schema version mismatch, discarding",
			zap.Int("found", snap.SchemaVersion), zap.Int("expected", SchemaVersion))
		return nil
	}

	now := q.clock.Now()
	for _, msg := range snap.Messages {
		if msg.DeliveryOptions.TTL > 0 && msg.Metadata.CreatedAt.Add(msg.DeliveryOptions.TTL).Before(now) {
			continue // silently drop expired messages on restore
		}
		if msg.Status == model.MessageStatusDelivered {
			// was awaiting acknowledgment when persisted; restart the
			// ack-timeout clock from now rather than resurrecting the
			// original deadline, since the process was down in between.
			q.awaitAck(msg)
			continue
		}
		qm := &queuedMessage{msg: msg, seq: q.seq}
		q.seq++
		heap.Push(&q.heap, qm)
		q.index[msg.ID] = qm
	}
	for _, id := range snap.ProcessedIDs {
		q.processedIDs[id] = struct{}{}
	}
	q.metrics = snap.Metrics
	if q.metrics.DepthByPriority == nil {
		q.metrics.DepthByPriority = make(map[model.Priority]int)
	}
	q.metrics.Depth = len(q.heap)
	return nil
}
