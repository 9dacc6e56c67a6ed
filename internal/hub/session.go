package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"rsacomm/internal/message"
	"rsacomm/internal/pipeline"
)

const sendBuffer = 256

// Session is the server-side view of one connected party. The name is
// bound exactly once, at successful login; connected flips true on login
// and false on close; closed is the idempotence latch for teardown.
type Session struct {
	hub  *Hub
	conn pipeline.Conn
	pipe *pipeline.Pipeline

	mu           sync.Mutex
	name         string
	publicKey    *jose.JSONWebKey
	connected    bool
	closed       bool
	lastActivity time.Time
	send         chan *message.Message
	reaper       *Reaper
}

func newSession(h *Hub, conn pipeline.Conn) *Session {
	s := &Session{
		hub:          h,
		conn:         conn,
		send:         make(chan *message.Message, sendBuffer),
		lastActivity: time.Now(),
	}
	s.reaper = newReaper(s, h.loginDeadline, h.idleDeadline)

	s.pipe = pipeline.New(conn)
	s.pipe.OnMessage(s.touch)
	s.pipe.OnFailure(func(err error) { h.teardown(s, "read failed") })
	s.pipe.Subscribe(func(kind message.Kind, msg *message.Message) {
		h.handle(s, kind, msg)
	})
	return s
}

// start spawns the three per-connection goroutines and arms the login
// deadline.
func (s *Session) start() {
	s.mu.Lock()
	s.reaper.scheduleLoginLocked()
	s.mu.Unlock()

	go s.pipe.ReadPump()
	go s.pipe.DispatchPump()
	go s.writePump()
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) PublicKey() *jose.JSONWebKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicKey
}

func (s *Session) setPublicKey(key *jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publicKey = key
}

// activate binds the login name and switches the reaper from the login
// deadline to the inactivity deadline.
func (s *Session) activate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.connected = true
	s.lastActivity = time.Now()
	s.reaper.scheduleIdleLocked()
}

// touch runs on the reader goroutine for every parsed inbound message.
func (s *Session) touch(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	if s.connected && !s.closed {
		s.reaper.scheduleIdleLocked()
	}
}

// Send queues msg for delivery. A full buffer drops the message; the
// protocol has no delivery receipts, so senders never learn either way.
func (s *Session) Send(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
		slog.Warn("send buffer full, dropping message", "name", s.name, "kind", msg.Kind)
	}
}

func (s *Session) writePump() {
	for msg := range s.send {
		if err := s.conn.WriteMessage(msg); err != nil {
			slog.Debug("session write failed", "name", s.Name(), "error", err)
			s.hub.teardown(s, "write failed")
			return
		}
	}
}

// shutdownLocked releases every owned resource. Caller holds s.mu and has
// checked s.closed.
func (s *Session) shutdownLocked() (name string, wasConnected bool) {
	s.closed = true
	wasConnected = s.connected
	s.connected = false
	s.reaper.stopLocked()
	close(s.send)
	s.pipe.Close()
	return s.name, wasConnected
}

// shutdown closes the session once. first is true only for the caller
// that actually performed the close; double-close attempts are no-ops.
func (s *Session) shutdown() (name string, wasConnected, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.name, false, false
	}
	name, wasConnected = s.shutdownLocked()
	return name, wasConnected, true
}
