package pipeline

import (
	"log/slog"
	"sync/atomic"

	"rsacomm/internal/message"
)

// Conn is one framed bidirectional message stream. Close must unblock a
// concurrent ReadMessage with an error.
type Conn interface {
	ReadMessage() (*message.Message, error)
	WriteMessage(msg *message.Message) error
	Close() error
}

// Subscriber receives every dispatched message, in arrival order.
type Subscriber func(kind message.Kind, msg *message.Message)

// Pipeline decouples reading messages off a connection from delivering
// them to subscribers, so a slow subscriber can never stall the socket
// reader. One goroutine runs ReadPump, a second runs DispatchPump; they
// meet on an unbounded FIFO queue.
type Pipeline struct {
	conn    Conn
	queue   *queue
	subs    []Subscriber
	closing atomic.Bool

	// onMessage runs on the reader goroutine for every successfully
	// parsed message, before it is queued. Used for activity tracking.
	onMessage func(msg *message.Message)

	// onFailure runs once when a read fails while the pipeline was not
	// already closing. The owner uses it to tear the session down.
	onFailure func(err error)
}

func New(conn Conn) *Pipeline {
	return &Pipeline{
		conn:  conn,
		queue: newQueue(),
	}
}

// Subscribe registers sub. Subscribers are invoked synchronously in
// registration order. Not safe to call once the pumps are running.
func (p *Pipeline) Subscribe(sub Subscriber) {
	p.subs = append(p.subs, sub)
}

// OnMessage installs the per-message activity hook.
func (p *Pipeline) OnMessage(fn func(msg *message.Message)) {
	p.onMessage = fn
}

// OnFailure installs the fatal-read hook.
func (p *Pipeline) OnFailure(fn func(err error)) {
	p.onFailure = fn
}

// ReadPump reads one message per iteration and queues it. Any read or
// decode error is fatal to the connection: the loop ends and, unless the
// pipeline was closing anyway, the failure hook fires. Run as a goroutine.
func (p *Pipeline) ReadPump() {
	defer p.queue.close()

	for {
		if p.closing.Load() {
			return
		}

		msg, err := p.conn.ReadMessage()
		if err != nil {
			if p.closing.Load() {
				return
			}
			slog.Debug("connection read ended", "error", err)
			if p.onFailure != nil {
				p.onFailure(err)
			}
			return
		}

		if p.onMessage != nil {
			p.onMessage(msg)
		}
		p.queue.push(msg)
	}
}

// DispatchPump drains the queue and hands every message to each
// subscriber. On close it finishes the queued backlog before returning.
// Run as a goroutine.
func (p *Pipeline) DispatchPump() {
	for {
		msg, ok := p.queue.pop()
		if !ok {
			return
		}
		for _, sub := range p.subs {
			sub(msg.Kind, msg)
		}
	}
}

// Close latches the shutdown flag and closes the connection, which
// unblocks the reader. The dispatcher drains whatever is already queued.
// Safe to call more than once.
func (p *Pipeline) Close() {
	if p.closing.Swap(true) {
		return
	}
	if err := p.conn.Close(); err != nil {
		slog.Debug("connection close", "error", err)
	}
}

// Closing reports whether shutdown has been requested.
func (p *Pipeline) Closing() bool {
	return p.closing.Load()
}
