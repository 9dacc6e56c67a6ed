package client_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsacomm/internal/client"
	"rsacomm/internal/hub"
	"rsacomm/internal/message"
	"rsacomm/internal/pipeline"
)

// newTestServer runs a real hub behind a websocket endpoint and returns
// its ws:// URL.
func newTestServer(t *testing.T) string {
	t.Helper()
	h := hub.New(nil, 5*time.Second, time.Minute)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Attach(pipeline.NewWebsocketConn(conn))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// recorder collects client events for assertions.
type recorder struct {
	mu        sync.Mutex
	users     map[string]client.PeerInfo
	messages  chan *message.Message
	loggedOut chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{
		messages:  make(chan *message.Message, 32),
		loggedOut: make(chan struct{}),
	}
}

func (r *recorder) UserUpdate(users map[string]client.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = users
}

func (r *recorder) NewMessage(msg *message.Message) { r.messages <- msg }

func (r *recorder) LoggedOut() {
	r.once.Do(func() { close(r.loggedOut) })
}

func (r *recorder) peer(name string) (client.PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.users[name]
	return info, ok
}

func (r *recorder) waitMessage(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (r *recorder) expectNoMessage(t *testing.T) {
	t.Helper()
	select {
	case msg := <-r.messages:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func (r *recorder) waitLoggedOut(t *testing.T) {
	t.Helper()
	select {
	case <-r.loggedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for logout event")
	}
}

// join spins up a client, connects it to url and logs it in.
func join(t *testing.T, url, name string) (*client.Client, *recorder) {
	t.Helper()
	c, err := client.New()
	require.NoError(t, err)
	rec := newRecorder()
	c.AddListener(rec)
	require.NoError(t, c.Connect(url))
	require.NoError(t, c.Login(name))
	return c, rec
}

// waitForPublicKey blocks until c's directory has a usable public key
// for peer.
func waitForPublicKey(t *testing.T, c *client.Client, peer string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Peers()[peer].HasPublicKey
	}, 2*time.Second, 10*time.Millisecond, "no public key for %s", peer)
}

func TestDirectoryTracksLoginsAndKeys(t *testing.T) {
	url := newTestServer(t)
	alice, aliceRec := join(t, url, "alice")
	bob, _ := join(t, url, "bob")
	defer alice.Logout(true)
	defer bob.Logout(true)

	// bob learns alice from the login snapshot, key included.
	waitForPublicKey(t, bob, "alice")

	// alice learns bob from the announcement, then his key broadcast.
	waitForPublicKey(t, alice, "bob")
	require.Eventually(t, func() bool {
		info, ok := aliceRec.peer("bob")
		return ok && info.HasPublicKey
	}, 2*time.Second, 10*time.Millisecond)
	info, _ := aliceRec.peer("bob")
	assert.False(t, info.HasSessionKey)
}

func TestPlainBroadcast(t *testing.T) {
	url := newTestServer(t)
	alice, aliceRec := join(t, url, "alice")
	bob, bobRec := join(t, url, "bob")
	defer alice.Logout(true)
	defer bob.Logout(true)
	waitForPublicKey(t, alice, "bob")

	require.NoError(t, alice.SendPlain(message.Broadcast, "hello everyone"))

	got := bobRec.waitMessage(t)
	assert.Equal(t, "alice", got.Source)
	assert.Equal(t, "hello everyone", got.Body)

	// The sender sees its own message exactly once, as a local echo.
	echo := aliceRec.waitMessage(t)
	assert.Equal(t, "hello everyone", echo.Body)
	aliceRec.expectNoMessage(t)
}

func TestAsymmetricMessage(t *testing.T) {
	url := newTestServer(t)
	alice, _ := join(t, url, "alice")
	bob, bobRec := join(t, url, "bob")
	defer alice.Logout(true)
	defer bob.Logout(true)
	waitForPublicKey(t, alice, "bob")

	require.NoError(t, alice.SendAsymmetric("bob", "for your eyes only"))

	got := bobRec.waitMessage(t)
	assert.Equal(t, "alice", got.Source)
	assert.Equal(t, "for your eyes only", got.Body)
}

func TestAsymmetricRequiresPublicKey(t *testing.T) {
	url := newTestServer(t)
	alice, _ := join(t, url, "alice")
	defer alice.Logout(true)

	err := alice.SendAsymmetric("ghost", "hello?")
	assert.Error(t, err)
}

func TestSymmetricMessageNegotiatesKey(t *testing.T) {
	url := newTestServer(t)
	alice, _ := join(t, url, "alice")
	bob, bobRec := join(t, url, "bob")
	defer alice.Logout(true)
	defer bob.Logout(true)
	waitForPublicKey(t, alice, "bob")

	// First symmetric send transports a fresh session key under bob's
	// public key before the message itself goes out.
	require.NoError(t, alice.SendSymmetric("bob", "hush"))

	got := bobRec.waitMessage(t)
	assert.Equal(t, "alice", got.Source)
	assert.Equal(t, "hush", got.Body)

	assert.True(t, alice.Peers()["bob"].HasSessionKey)
	require.Eventually(t, func() bool {
		return bob.Peers()["alice"].HasSessionKey
	}, 2*time.Second, 10*time.Millisecond)

	// The negotiated key is reused both ways.
	require.NoError(t, bob.SendSymmetric("alice", "likewise"))
}

func TestSymmetricRequiresKnownPeer(t *testing.T) {
	url := newTestServer(t)
	alice, _ := join(t, url, "alice")
	defer alice.Logout(true)

	err := alice.SendSymmetric("ghost", "hello?")
	assert.Error(t, err)
}

func TestLogoutRemovesPeerEverywhere(t *testing.T) {
	url := newTestServer(t)
	alice, aliceRec := join(t, url, "alice")
	bob, _ := join(t, url, "bob")
	waitForPublicKey(t, alice, "bob")
	defer bob.Logout(true)

	require.NoError(t, alice.Logout(true))
	aliceRec.waitLoggedOut(t)

	require.Eventually(t, func() bool {
		_, ok := bob.Peers()["alice"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateNameKicksOnlyTheNewcomer(t *testing.T) {
	url := newTestServer(t)
	alice, _ := join(t, url, "alice")
	bob, bobRec := join(t, url, "bob")
	defer alice.Logout(true)
	defer bob.Logout(true)
	waitForPublicKey(t, alice, "bob")

	dup, err := client.New()
	require.NoError(t, err)
	dupRec := newRecorder()
	dup.AddListener(dupRec)
	require.NoError(t, dup.Connect(url))
	// The rejection may close the socket before the key publish lands.
	_ = dup.Login("alice")

	dupRec.waitLoggedOut(t)

	// The original alice is still live.
	require.NoError(t, alice.SendPlain(message.Broadcast, "still here"))
	got := bobRec.waitMessage(t)
	assert.Equal(t, "alice", got.Source)
}
