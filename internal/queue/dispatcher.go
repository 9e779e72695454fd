package queue

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// Run starts the single cooperative dispatcher goroutine and the periodic
// TTL sweep. It blocks until ctx is cancelled or Close is called, so
// callers typically invoke it with `go q.Run(ctx)`.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.doneCh)

	sweeper := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	spec := fmt.Sprintf("@every %s", q.opts.SweepInterval)
	entryID, err := sweeper.AddFunc(spec, q.sweep)
	if err != nil {
		q.logger.Error("failed to schedule queue sweep, falling back to no sweep", zap.Error(err))
	} else {
		sweeper.Start()
		defer sweeper.Remove(entryID)
		defer sweeper.Stop()
	}

	for {
		q.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.wakeCh:
			// a new message, handler registration, or ack resolution
			// may have unblocked the head of line; loop and re-drain.
		}
	}
}

// drain pops and delivers messages from the head of the heap until the
// heap is empty or the head's receiver has no registered handler, in
// which case it stops: the queue is processed strictly sequentially, so a
// busy or absent receiver at the front blocks messages behind it even if
// they address a different, available receiver.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		default:
		}

		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			return
		}

		head := q.heap[0]
		if q.isExpiredLocked(head.msg) {
			heap.Pop(&q.heap)
			delete(q.index, head.msg.ID)
			head.msg.Status = model.MessageStatusExpired
			q.metrics.Expired++
			q.metrics.DepthByPriority[head.msg.Priority]--
			q.metrics.Depth = len(q.heap)
			q.mu.Unlock()

			q.persistBestEffort()
			q.emit(Event{Type: EventExpired, Message: head.msg})
			continue
		}

		handler, ok := q.handlers[head.msg.Receiver.ID]
		if !ok {
			q.mu.Unlock()
			return
		}

		heap.Pop(&q.heap)
		delete(q.index, head.msg.ID)
		q.metrics.DepthByPriority[head.msg.Priority]--
		q.metrics.Depth = len(q.heap)
		q.mu.Unlock()

		q.deliver(ctx, head.msg, handler)
	}
}

// deliver invokes handler for msg, retrying with exponential backoff on
// error. Backoff sleeps happen in this goroutine, so while a message is
// being retried, delivery for every other receiver is paused too — this
// matches the single-threaded cooperative dispatch the source exhibits.
func (q *Queue) deliver(ctx context.Context, msg *model.Message, handler Handler) {
	backoff := time.Second

	for attempt := 1; ; attempt++ {
		msg.Metadata.DeliveryAttempts = attempt

		deliverCtx, cancel := context.WithTimeout(ctx, q.opts.DefaultAck)
		err := handler(deliverCtx, msg)
		cancel()

		if err == nil {
			now := q.clock.Now()
			msg.Metadata.DeliveredAt = &now
			q.recordDeliveryLatency(now.Sub(msg.Metadata.CreatedAt))

			if msg.DeliveryOptions.RequireAck {
				msg.Status = model.MessageStatusDelivered
				q.awaitAck(msg)
			} else {
				msg.Status = model.MessageStatusAcknowledged
				q.mu.Lock()
				q.processedIDs[msg.ID] = struct{}{}
				q.metrics.Delivered++
				q.mu.Unlock()
			}

			q.persistBestEffort()
			q.emit(Event{Type: EventDelivered, Message: msg})
			return
		}

		msg.Metadata.LastError = err.Error()

		if attempt >= msg.DeliveryOptions.RetryCount {
			msg.Status = model.MessageStatusFailed
			q.mu.Lock()
			q.metrics.Failed++
			q.mu.Unlock()

			q.persistBestEffort()
			q.emit(Event{Type: EventFailed, Message: msg, Err: err})
			return
		}

		wait := backoff
		if max := q.opts.MaxRetryBackoff; wait > max {
			wait = max
		}
		backoff *= 2

		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// awaitAck registers msg in the pending-ack map with a timer; if no
// Acknowledge call arrives before DeliveryOptions.Timeout, the message is
// marked failed terminally — it is not retried, since the receiver did
// confirm delivery, it just never resolved the outcome.
func (q *Queue) awaitAck(msg *model.Message) {
	timeout := msg.DeliveryOptions.Timeout
	if timeout <= 0 {
		timeout = q.opts.DefaultAck
	}

	entry := &ackEntry{msg: msg, created: q.clock.Now()}
	entry.timer = time.AfterFunc(timeout, func() {
		q.mu.Lock()
		if _, stillPending := q.pendingAck[msg.ID]; !stillPending {
			q.mu.Unlock()
			return
		}
		delete(q.pendingAck, msg.ID)
		msg.Status = model.MessageStatusFailed
		msg.Metadata.LastError = "ack-timeout"
		q.metrics.Failed++
		q.mu.Unlock()

		q.persistBestEffort()
		q.emit(Event{Type: EventFailed, Message: msg, Err: fmt.Errorf("ack-timeout")})
	})

	q.mu.Lock()
	q.pendingAck[msg.ID] = entry
	q.mu.Unlock()
}

func (q *Queue) recordDeliveryLatency(d time.Duration) {
	const alpha = 0.2 // exponential moving average smoothing factor
	ms := float64(d.Milliseconds())

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.metrics.AvgDeliveryMillis == 0 {
		q.metrics.AvgDeliveryMillis = ms
		return
	}
	q.metrics.AvgDeliveryMillis = alpha*ms + (1-alpha)*q.metrics.AvgDeliveryMillis
}

func (q *Queue) isExpiredLocked(msg *model.Message) bool {
	ttl := msg.DeliveryOptions.TTL
	if ttl <= 0 {
		return false
	}
	return q.clock.Now().After(msg.Metadata.CreatedAt.Add(ttl))
}

// sweep runs on the cron schedule and removes expired messages sitting in
// the heap or awaiting acknowledgment (the dispatcher's own drain loop
// already checks the head on every iteration, but a message stuck behind a
// busy receiver, or parked in the pending-ack map, needs this independent
// pass to expire on schedule instead of only at dequeue time).
func (q *Queue) sweep() {
	q.mu.Lock()
	var expired []*model.Message
	remaining := q.heap[:0]
	for _, qm := range q.heap {
		if q.isExpiredLocked(qm.msg) {
			delete(q.index, qm.msg.ID)
			qm.msg.Status = model.MessageStatusExpired
			q.metrics.Expired++
			q.metrics.DepthByPriority[qm.msg.Priority]--
			expired = append(expired, qm.msg)
			continue
		}
		remaining = append(remaining, qm)
	}
	q.heap = remaining
	heap.Init(&q.heap)
	for i, qm := range q.heap {
		qm.heapIndex = i
	}
	q.metrics.Depth = len(q.heap)

	for id, entry := range q.pendingAck {
		if !q.isExpiredLocked(entry.msg) {
			continue
		}
		entry.timer.Stop()
		delete(q.pendingAck, id)
		entry.msg.Status = model.MessageStatusExpired
		q.metrics.Expired++
		expired = append(expired, entry.msg)
	}
	q.mu.Unlock()

	if len(expired) > 0 {
		q.persistBestEffort()
		for _, msg := range expired {
			q.emit(Event{Type: EventExpired, Message: msg})
		}
	}
}
