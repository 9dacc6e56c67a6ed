package message

import (
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// Reserved identities. SERVER is the server as a logical source or sink,
// BROADCAST fans a message out to every active session.
const (
	Server    = "SERVER"
	Broadcast = "BROADCAST"
)

// Kind tags every wire message. The protocol is a closed world: a kind
// outside this list is a decode error, not something to forward.
type Kind string

const (
	KindLogin    Kind = "LOGIN"
	KindLogout   Kind = "LOGOUT"
	KindUserList Kind = "USER_LIST"
	KindPubKey   Kind = "PUB_KEY"
	KindKey      Kind = "KEY"
	KindPlain    Kind = "PLAIN_MSG"
	KindSym      Kind = "SYM_MSG"
	KindRSA      Kind = "RSA_MSG"
)

// Valid reports whether k is one of the protocol kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindUserList, KindPubKey,
		KindKey, KindPlain, KindSym, KindRSA:
		return true
	}
	return false
}

// UserInfo is one entry of a USER_LIST directory snapshot.
type UserInfo struct {
	PublicKey     *jose.JSONWebKey `json:"publicKey,omitempty"`
	HasSessionKey bool             `json:"hasSessionKey"`
}

// Message is one wire envelope. Kind determines which payload fields are
// set: Body for LOGIN/LOGOUT/PLAIN_MSG, Key for PUB_KEY, Cipher for
// KEY/RSA_MSG, Cipher+Nonce for SYM_MSG and Users for USER_LIST.
type Message struct {
	Source      string              `json:"source"`
	Destination string              `json:"destination"`
	Kind        Kind                `json:"type"`
	Body        string              `json:"body,omitempty"`
	Key         *jose.JSONWebKey    `json:"key,omitempty"`
	Cipher      []byte              `json:"cipher,omitempty"`
	Nonce       []byte              `json:"nonce,omitempty"`
	Users       map[string]UserInfo `json:"users,omitempty"`
}

func newMessage(source, destination string, kind Kind) Message {
	return Message{
		Source:      source,
		Destination: strings.TrimSpace(destination),
		Kind:        kind,
	}
}

// NewLogin builds the login request a client sends to claim name.
func NewLogin(name string) *Message {
	m := newMessage(name, Server, KindLogin)
	m.Body = name
	return &m
}

// NewLoginAnnouncement tells the other sessions that name just logged in.
func NewLoginAnnouncement(name string) *Message {
	m := newMessage(Server, Broadcast, KindLogin)
	m.Body = name
	return &m
}

// NewLogout builds a logout naming the departing identity. The source is
// the departing client itself or SERVER for announcements and rejections.
func NewLogout(source, destination, departing string) *Message {
	m := newMessage(source, destination, KindLogout)
	m.Body = departing
	return &m
}

// NewUserList builds the directory snapshot sent to a freshly logged-in
// session.
func NewUserList(destination string, users map[string]UserInfo) *Message {
	m := newMessage(Server, destination, KindUserList)
	m.Users = users
	return &m
}

// NewPubKey publishes source's asymmetric public key.
func NewPubKey(source string, key *jose.JSONWebKey) *Message {
	m := newMessage(source, Server, KindPubKey)
	m.Key = key
	return &m
}

// NewKey transports an asymmetrically encrypted session key to destination.
func NewKey(source, destination string, cipher []byte) *Message {
	m := newMessage(source, destination, KindKey)
	m.Cipher = cipher
	return &m
}

// NewPlain builds an unencrypted text message.
func NewPlain(source, destination, text string) *Message {
	m := newMessage(source, destination, KindPlain)
	m.Body = text
	return &m
}

// NewSym builds a message encrypted with the negotiated session key.
func NewSym(source, destination string, cipher, nonce []byte) *Message {
	m := newMessage(source, destination, KindSym)
	m.Cipher = cipher
	m.Nonce = nonce
	return &m
}

// NewRSA builds a message encrypted directly with the recipient's public key.
func NewRSA(source, destination string, cipher []byte) *Message {
	m := newMessage(source, destination, KindRSA)
	m.Cipher = cipher
	return &m
}

func (m *Message) String() string {
	return fmt.Sprintf("%s -> %s: %s", m.Source, m.Destination, m.payloadString())
}

func (m *Message) payloadString() string {
	switch m.Kind {
	case KindLogin, KindLogout, KindPlain:
		return m.Body
	case KindUserList:
		names := make([]string, 0, len(m.Users))
		for name := range m.Users {
			names = append(names, name)
		}
		return fmt.Sprintf("%d user(s): %s", len(m.Users), strings.Join(names, ", "))
	case KindPubKey:
		return "public key"
	case KindKey:
		return fmt.Sprintf("session key (%d bytes)", len(m.Cipher))
	case KindSym, KindRSA:
		return fmt.Sprintf("ciphertext (%d bytes)", len(m.Cipher))
	}
	return string(m.Kind)
}
