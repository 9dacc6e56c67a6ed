package pipeline

import (
	"sync"

	"rsacomm/internal/message"
)

// queue is the unbounded FIFO buffer between the read pump and the
// dispatch pump. pop blocks while the queue is empty and keeps returning
// the remaining items after close, so shutdown drains instead of dropping.
type queue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []*message.Message
	closed   bool
}

func newQueue() *queue {
	q := &queue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(msg *message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, msg)
	q.nonEmpty.Signal()
}

// pop returns the next message in arrival order. It reports false only
// once the queue is closed and fully drained.
func (q *queue) pop() (*message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
}
