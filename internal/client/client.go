package client

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"rsacomm/internal/key_exchange"
	"rsacomm/internal/message"
	"rsacomm/internal/pipeline"
)

// Client is one chat participant: it holds the long-lived identity key
// pair, the per-peer directory with negotiated session keys, and the
// hybrid-encryption send/receive logic. UIs observe it via Listeners.
//
// Echo semantics: the server never reflects a message back to its sender;
// the client fires a local NewMessage event at send time instead, so the
// sender sees its own message exactly once.
type Client struct {
	keys *rsa.PrivateKey

	mu        sync.Mutex
	name      string
	conn      pipeline.Conn
	pipe      *pipeline.Pipeline
	peers     map[string]*peer
	listeners []Listener
	closed    bool
}

// New creates a client with a fresh identity key pair.
func New() (*Client, error) {
	keys, err := key_exchange.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Client{
		keys:  keys,
		peers: make(map[string]*peer),
	}, nil
}

// AddListener registers l for events.
func (c *Client) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Connect dials the server and starts the ingest pipeline.
func (c *Client) Connect(url string) error {
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn := pipeline.NewWebsocketConn(wsConn)

	pipe := pipeline.New(conn)
	pipe.Subscribe(c.handle)
	pipe.OnFailure(func(err error) {
		// The server hung up on us: eviction, rejection follow-through
		// or plain network failure. All of them mean we are out.
		if c.shutdown() {
			c.notifyLoggedOut()
		}
	})

	c.mu.Lock()
	c.conn = conn
	c.pipe = pipe
	c.mu.Unlock()

	go pipe.ReadPump()
	go pipe.DispatchPump()
	return nil
}

// Login claims name and publishes this client's public key.
func (c *Client) Login(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("login name must not be empty")
	}

	if err := c.send(message.NewLogin(name)); err != nil {
		return err
	}

	c.mu.Lock()
	c.name = name
	c.mu.Unlock()

	jwk := key_exchange.PublicKeyToJWK(&c.keys.PublicKey, name)
	return c.send(message.NewPubKey(name, jwk))
}

// Logout leaves the server. With notify false the connection is torn down
// without telling the server first, used when the server already kicked
// this client out.
func (c *Client) Logout(notify bool) error {
	var sendErr error
	if notify {
		name := c.Name()
		sendErr = c.send(message.NewLogout(name, message.Server, name))
	}
	if c.shutdown() {
		c.notifyLoggedOut()
	}
	return sendErr
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Peers returns a snapshot of the directory.
func (c *Client) Peers() map[string]PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peersLocked()
}

func (c *Client) peersLocked() map[string]PeerInfo {
	users := make(map[string]PeerInfo, len(c.peers))
	for name, p := range c.peers {
		users[name] = p.info()
	}
	return users
}

// SendPlain sends text unencrypted, typically to BROADCAST.
func (c *Client) SendPlain(destination, text string) error {
	destination = strings.TrimSpace(destination)
	msg := message.NewPlain(c.Name(), destination, text)
	if err := c.send(msg); err != nil {
		return err
	}
	c.notifyNewMessage(msg)
	return nil
}

// SendAsymmetric encrypts a single message directly with the recipient's
// public key. Heavier per message than a session key, but needs no
// negotiated state; the text must fit in one OAEP block.
func (c *Client) SendAsymmetric(destination, text string) error {
	destination = strings.TrimSpace(destination)

	pub, err := c.peerPublicKey(destination)
	if err != nil {
		return err
	}
	ciphertext, err := key_exchange.EncryptWithPublicKey(pub, []byte(text))
	if err != nil {
		return err
	}

	if err := c.send(message.NewRSA(c.Name(), destination, ciphertext)); err != nil {
		return err
	}
	c.notifyNewMessage(message.NewPlain(c.Name(), destination, text))
	return nil
}

// SendSymmetric encrypts text with the session key negotiated with the
// recipient, transporting a fresh key first if none exists yet. A message
// is never sent with an absent key.
func (c *Client) SendSymmetric(destination, text string) error {
	destination = strings.TrimSpace(destination)

	key, err := c.ensureSessionKey(destination)
	if err != nil {
		return err
	}

	name := c.Name()
	aad := key_exchange.BuildAAD(name, destination)
	ciphertext, nonce, err := key_exchange.EncryptWithSessionKey(key, []byte(text), aad)
	if err != nil {
		return err
	}

	if err := c.send(message.NewSym(name, destination, ciphertext, nonce)); err != nil {
		return err
	}
	c.notifyNewMessage(message.NewPlain(name, destination, text))
	return nil
}

// ensureSessionKey returns the session key shared with destination,
// generating and transporting a fresh one under the peer's public key
// first if the pair has none.
func (c *Client) ensureSessionKey(destination string) ([]byte, error) {
	c.mu.Lock()
	p, ok := c.peers[destination]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown peer %q", destination)
	}
	if p.sessionKey != nil {
		key := p.sessionKey
		c.mu.Unlock()
		return key, nil
	}
	pub := p.publicKey
	c.mu.Unlock()

	if pub == nil {
		return nil, fmt.Errorf("no public key for peer %q", destination)
	}

	key, err := key_exchange.GenerateSessionKey()
	if err != nil {
		return nil, err
	}
	encryptedKey, err := key_exchange.EncryptWithPublicKey(pub, key)
	if err != nil {
		return nil, err
	}

	// Another goroutine may have raced the negotiation; first one wins.
	c.mu.Lock()
	if p.sessionKey != nil {
		key = p.sessionKey
		c.mu.Unlock()
		return key, nil
	}
	p.sessionKey = key
	c.mu.Unlock()

	if err := c.send(message.NewKey(c.Name(), destination, encryptedKey)); err != nil {
		return nil, err
	}
	c.notifyUserUpdate()
	return key, nil
}

func (c *Client) peerPublicKey(name string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[name]
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", name)
	}
	if p.publicKey == nil {
		return nil, fmt.Errorf("no public key for peer %q", name)
	}
	return p.publicKey, nil
}

func (c *Client) send(msg *message.Message) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if conn == nil || closed {
		return fmt.Errorf("not connected")
	}
	if err := conn.WriteMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Kind, err)
	}
	return nil
}

// handle runs on the dispatch goroutine for every inbound message.
// Decryption failures are logged and swallowed here; they must never
// kill the dispatcher.
func (c *Client) handle(kind message.Kind, msg *message.Message) {
	switch kind {
	case message.KindLogin:
		c.processLogin(msg)
	case message.KindLogout:
		c.processLogout(msg)
	case message.KindUserList:
		c.processUserList(msg)
	case message.KindPubKey:
		c.processPubKey(msg)
	case message.KindKey:
		c.processKey(msg)
	case message.KindPlain:
		c.notifyNewMessage(msg)
	case message.KindSym:
		c.processSym(msg)
	case message.KindRSA:
		c.processRSA(msg)
	}
}

func (c *Client) processLogin(msg *message.Message) {
	name := msg.Body
	if name == "" || name == c.Name() {
		return
	}
	c.mu.Lock()
	if _, ok := c.peers[name]; !ok {
		c.peers[name] = &peer{name: name}
	}
	c.mu.Unlock()
	c.notifyUserUpdate()
}

func (c *Client) processLogout(msg *message.Message) {
	departing := msg.Body

	if departing == c.Name() {
		// The server logged us out: name collision or eviction.
		if msg.Source == message.Server {
			if c.shutdown() {
				c.notifyLoggedOut()
			}
		}
		return
	}

	c.mu.Lock()
	delete(c.peers, departing)
	c.mu.Unlock()
	c.notifyUserUpdate()
}

// processUserList replaces the whole directory with the server snapshot.
// It only arrives right after our own login, before any key negotiation,
// so nothing of value is discarded.
func (c *Client) processUserList(msg *message.Message) {
	peers := make(map[string]*peer, len(msg.Users))
	for name, info := range msg.Users {
		p := &peer{name: name}
		if info.PublicKey != nil {
			pub, err := key_exchange.JWKToPublicKey(info.PublicKey)
			if err != nil {
				slog.Error("ignoring unusable public key in user list",
					"user", name, "error", err)
			} else {
				p.publicKey = pub
			}
		}
		peers[name] = p
	}

	c.mu.Lock()
	c.peers = peers
	c.mu.Unlock()
	c.notifyUserUpdate()
}

func (c *Client) processPubKey(msg *message.Message) {
	pub, err := key_exchange.JWKToPublicKey(msg.Key)
	if err != nil {
		slog.Error("ignoring unusable public key", "source", msg.Source, "error", err)
		return
	}

	c.mu.Lock()
	p, ok := c.peers[msg.Source]
	if !ok {
		p = &peer{name: msg.Source}
		c.peers[msg.Source] = p
	}
	p.publicKey = pub
	c.mu.Unlock()
	c.notifyUserUpdate()
}

func (c *Client) processKey(msg *message.Message) {
	key, err := key_exchange.DecryptWithPrivateKey(c.keys, msg.Cipher)
	if err != nil {
		slog.Error("failed to decrypt session key", "source", msg.Source, "error", err)
		return
	}
	if err := key_exchange.ValidateSessionKey(key); err != nil {
		slog.Error("rejecting transported session key", "source", msg.Source, "error", err)
		return
	}

	c.mu.Lock()
	p, ok := c.peers[msg.Source]
	if !ok {
		p = &peer{name: msg.Source}
		c.peers[msg.Source] = p
	}
	p.sessionKey = key
	c.mu.Unlock()
	c.notifyUserUpdate()
}

func (c *Client) processSym(msg *message.Message) {
	c.mu.Lock()
	p, ok := c.peers[msg.Source]
	var key []byte
	if ok {
		key = p.sessionKey
	}
	c.mu.Unlock()

	if key == nil {
		slog.Error("no session key for symmetric message", "source", msg.Source)
		return
	}

	aad := key_exchange.BuildAAD(msg.Source, msg.Destination)
	plaintext, err := key_exchange.DecryptWithSessionKey(key, msg.Cipher, msg.Nonce, aad)
	if err != nil {
		slog.Error("failed to decrypt symmetric message", "source", msg.Source, "error", err)
		return
	}
	c.notifyNewMessage(message.NewPlain(msg.Source, msg.Destination, string(plaintext)))
}

func (c *Client) processRSA(msg *message.Message) {
	plaintext, err := key_exchange.DecryptWithPrivateKey(c.keys, msg.Cipher)
	if err != nil {
		slog.Error("failed to decrypt rsa message", "source", msg.Source, "error", err)
		return
	}
	c.notifyNewMessage(message.NewPlain(msg.Source, msg.Destination, string(plaintext)))
}

// shutdown closes the connection once. Reports whether this call did it.
func (c *Client) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	pipe := c.pipe
	c.mu.Unlock()

	if pipe != nil {
		pipe.Close()
	}
	return true
}

func (c *Client) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

func (c *Client) notifyUserUpdate() {
	c.mu.Lock()
	users := c.peersLocked()
	c.mu.Unlock()
	for _, l := range c.snapshotListeners() {
		l.UserUpdate(users)
	}
}

func (c *Client) notifyNewMessage(msg *message.Message) {
	for _, l := range c.snapshotListeners() {
		l.NewMessage(msg)
	}
}

func (c *Client) notifyLoggedOut() {
	for _, l := range c.snapshotListeners() {
		l.LoggedOut()
	}
}
