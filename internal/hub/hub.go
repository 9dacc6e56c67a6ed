package hub

import (
	"log/slog"
	"strings"
	"time"

	"rsacomm/internal/message"
	"rsacomm/internal/pipeline"
	"rsacomm/internal/store"
)

// Hub owns the registry and routes every inbound message: unicasts are
// relayed to their destination, everything addressed to BROADCAST fans
// out to all active sessions except the sender. Messages that fail the
// identity checks are dropped without an answer.
type Hub struct {
	registry      *Registry
	store         *store.Store
	loginDeadline time.Duration
	idleDeadline  time.Duration
}

// New creates a hub. st may be nil to disable the archive.
func New(st *store.Store, loginDeadline, idleDeadline time.Duration) *Hub {
	return &Hub{
		registry:      NewRegistry(),
		store:         st,
		loginDeadline: loginDeadline,
		idleDeadline:  idleDeadline,
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Attach wraps an accepted connection in a pending session and starts its
// pumps. The session either logs in before the login deadline or gets
// reaped.
func (h *Hub) Attach(conn pipeline.Conn) *Session {
	s := newSession(h, conn)
	s.start()
	slog.Debug("session attached")
	return s
}

// handle runs on the session's dispatch goroutine for every inbound
// message. A channel is bound to the identity that logged in on it: the
// very first LOGIN is accepted on an unbound channel, everything else
// must carry the bound name as its source or it is silently dropped.
func (h *Hub) handle(s *Session, kind message.Kind, msg *message.Message) {
	name := s.Name()
	if name == "" {
		if kind != message.KindLogin {
			slog.Debug("dropping message from unauthenticated channel", "kind", kind)
			return
		}
	} else if msg.Source != name {
		slog.Warn("dropping message with spoofed source",
			"channel", name, "claimed", msg.Source, "kind", kind)
		return
	}

	switch kind {
	case message.KindLogin:
		h.login(s, msg)
	case message.KindLogout:
		h.teardown(s, "client logout")
	case message.KindPubKey:
		h.pubKey(s, msg)
	case message.KindKey, message.KindPlain, message.KindSym, message.KindRSA:
		h.relay(msg)
	case message.KindUserList:
		// Directory snapshots only ever flow server to client.
		slog.Debug("dropping client-sent user list", "source", msg.Source)
	}
}

func (h *Hub) login(s *Session, msg *message.Message) {
	requested := strings.TrimSpace(msg.Body)
	if requested == "" {
		slog.Debug("dropping login with empty name")
		return
	}
	if s.Connected() {
		slog.Debug("dropping repeated login", "name", s.Name())
		return
	}

	reserved := requested == message.Server || requested == message.Broadcast
	if reserved || !h.registry.Insert(requested, s) {
		slog.Info("login rejected, name unavailable", "name", requested)
		// Written straight to the connection so the rejection is flushed
		// before teardown closes the socket under the write pump.
		rejection := message.NewLogout(message.Server, requested, requested)
		if err := s.conn.WriteMessage(rejection); err != nil {
			slog.Debug("failed to deliver login rejection", "error", err)
		}
		h.teardown(s, "login name unavailable")
		return
	}

	s.activate(requested)
	h.store.RecordLogin(requested)
	slog.Info("client logged in", "name", requested, "total_clients", h.registry.Len())

	h.broadcast(message.NewLoginAnnouncement(requested), requested)
	s.Send(message.NewUserList(requested, h.registry.Users()))
}

// pubKey records the sender's advertised public key and forwards the
// announcement to everyone else.
func (h *Hub) pubKey(s *Session, msg *message.Message) {
	if msg.Key == nil {
		slog.Warn("dropping public key message without key", "source", msg.Source)
		return
	}
	s.setPublicKey(msg.Key)
	h.store.RecordMessage(msg)
	h.broadcast(msg, msg.Source)
}

// relay delivers a data message. Unknown unicast destinations are dropped
// without telling the sender; the protocol has no delivery receipts.
func (h *Hub) relay(msg *message.Message) {
	h.store.RecordMessage(msg)

	if msg.Destination == message.Broadcast {
		h.broadcast(msg, msg.Source)
		return
	}

	target, ok := h.registry.Lookup(msg.Destination)
	if !ok {
		slog.Debug("dropping message for unknown destination",
			"destination", msg.Destination, "kind", msg.Kind)
		return
	}
	target.Send(msg)
}

// broadcast fans msg out to every active session except exclude. It
// iterates a registry snapshot and takes one session lock at a time.
func (h *Hub) broadcast(msg *message.Message, exclude string) {
	for _, s := range h.registry.Snapshot() {
		if exclude != "" && s.Name() == exclude {
			continue
		}
		s.Send(msg)
	}
}

// teardown converges every close path: explicit logout, eviction, read or
// write failure. Only the first closer announces the departure.
func (h *Hub) teardown(s *Session, reason string) {
	name, wasConnected, first := s.shutdown()
	if !first {
		return
	}
	slog.Info("session closed", "name", name, "reason", reason)
	h.afterShutdown(s, name, wasConnected)
}

// afterShutdown removes a closed session from the registry and, if it had
// logged in, broadcasts the logout to the remaining sessions.
func (h *Hub) afterShutdown(s *Session, name string, wasConnected bool) {
	if !wasConnected {
		return
	}
	h.registry.Remove(name, s)
	h.store.RecordLogout(name)
	h.broadcast(message.NewLogout(message.Server, message.Broadcast, name), "")
}
