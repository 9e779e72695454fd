package queue

import "github.com/kandev/orchestrion/internal/orchestrator/model"

// queuedMessage is one heap entry: the message plus bookkeeping the heap
// interface needs to support in-place removal (heapIndex) and FIFO
// tie-break within a priority band (seq).
type queuedMessage struct {
	msg       *model.Message
	seq       uint64
	heapIndex int
}

// messageHeap orders entries by priority first (critical..low), then by
// insertion order (seq) within the same priority, mirroring the
// generalization of the teacher's taskHeap to four priority levels.
type messageHeap []*queuedMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	oi, oj := h[i].msg.Priority.Ordinal(), h[j].msg.Priority.Ordinal()
	if oi != oj {
		return oi < oj
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *messageHeap) Push(x any) {
	qm := x.(*queuedMessage)
	qm.heapIndex = len(*h)
	*h = append(*h, qm)
}

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	qm := old[n-1]
	old[n-1] = nil
	qm.heapIndex = -1
	*h = old[:n-1]
	return qm
}
