package client

import "rsacomm/internal/message"

// PeerInfo is a UI-facing snapshot of one directory entry.
type PeerInfo struct {
	HasPublicKey  bool
	HasSessionKey bool
}

// Listener receives client events. Delivery is synchronous, on the
// dispatch goroutine (or the sending goroutine for local echoes), in
// registration order.
type Listener interface {
	// UserUpdate fires whenever the peer directory changes.
	UserUpdate(users map[string]PeerInfo)
	// NewMessage fires for every readable message: inbound plaintext,
	// inbound messages after decryption, and local echoes of own sends.
	NewMessage(msg *message.Message)
	// LoggedOut fires once when the client leaves the server, whether
	// voluntarily, by rejection, or because the connection died.
	LoggedOut()
}

// ListenerFuncs adapts plain callbacks to the Listener interface. Nil
// fields are skipped.
type ListenerFuncs struct {
	OnUserUpdate func(users map[string]PeerInfo)
	OnNewMessage func(msg *message.Message)
	OnLoggedOut  func()
}

func (l ListenerFuncs) UserUpdate(users map[string]PeerInfo) {
	if l.OnUserUpdate != nil {
		l.OnUserUpdate(users)
	}
}

func (l ListenerFuncs) NewMessage(msg *message.Message) {
	if l.OnNewMessage != nil {
		l.OnNewMessage(msg)
	}
}

func (l ListenerFuncs) LoggedOut() {
	if l.OnLoggedOut != nil {
		l.OnLoggedOut()
	}
}
