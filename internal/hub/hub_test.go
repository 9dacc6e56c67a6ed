package hub

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsacomm/internal/key_exchange"
	"rsacomm/internal/message"
)

// fakeConn is an in-memory connection: the test plays the remote client,
// feeding in and observing out.
type fakeConn struct {
	in   chan *message.Message
	out  chan *message.Message
	done chan struct{}
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan *message.Message, 64),
		out:  make(chan *message.Message, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (*message.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(msg *message.Message) error {
	select {
	case <-c.done:
		return net.ErrClosed
	case c.out <- msg:
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func newTestHub() *Hub {
	return New(nil, time.Second, time.Minute)
}

func expectMsg(t *testing.T, conn *fakeConn, kind message.Kind) *message.Message {
	t.Helper()
	select {
	case msg := <-conn.out:
		require.Equal(t, kind, msg.Kind, "unexpected message %s", msg)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", kind)
		return nil
	}
}

func expectNone(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case msg := <-conn.out:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

// loginAs attaches a connection and completes a login, consuming the
// directory snapshot.
func loginAs(t *testing.T, h *Hub, name string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	h.Attach(conn)
	conn.in <- message.NewLogin(name)
	expectMsg(t, conn, message.KindUserList)
	return conn
}

func TestLoginRegistersAndSendsUserList(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	h.Attach(conn)

	conn.in <- message.NewLogin("alice")

	userList := expectMsg(t, conn, message.KindUserList)
	assert.Contains(t, userList.Users, "alice")

	s, ok := h.Registry().Lookup("alice")
	require.True(t, ok)
	assert.True(t, s.Connected())
}

func TestLoginNameIsTrimmed(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	h.Attach(conn)

	msg := message.NewLogin("alice")
	msg.Body = "  alice \t"
	conn.in <- msg

	expectMsg(t, conn, message.KindUserList)
	_, ok := h.Registry().Lookup("alice")
	assert.True(t, ok)
}

func TestDuplicateLoginRejected(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")

	imposter := newFakeConn()
	h.Attach(imposter)
	imposter.in <- message.NewLogin("alice")

	rejection := expectMsg(t, imposter, message.KindLogout)
	assert.Equal(t, message.Server, rejection.Source)
	assert.Equal(t, "alice", rejection.Body)

	require.Eventually(t, imposter.isClosed, 2*time.Second, 10*time.Millisecond)

	// The original session is untouched and saw no traffic.
	assert.Equal(t, 1, h.Registry().Len())
	expectNone(t, alice)
}

func TestReservedNamesRejected(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	h.Attach(conn)

	conn.in <- message.NewLogin(message.Broadcast)

	expectMsg(t, conn, message.KindLogout)
	require.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Registry().Len())
}

func TestLoginAnnouncedToOthers(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")

	bob := newFakeConn()
	h.Attach(bob)
	bob.in <- message.NewLogin("bob")

	announcement := expectMsg(t, alice, message.KindLogin)
	assert.Equal(t, "bob", announcement.Body)

	userList := expectMsg(t, bob, message.KindUserList)
	assert.Contains(t, userList.Users, "alice")
	assert.Contains(t, userList.Users, "bob")
}

func TestUnauthenticatedMessagesDropped(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")

	stranger := newFakeConn()
	h.Attach(stranger)
	stranger.in <- message.NewPlain("alice", "alice", "let me in")

	expectNone(t, alice)
	assert.Equal(t, 1, h.Registry().Len())
	assert.False(t, stranger.isClosed(), "soft rejection keeps the connection open")
}

func TestSpoofedSourceDropped(t *testing.T) {
	h := newTestHub()
	mallory := loginAs(t, h, "mallory")
	bob := loginAs(t, h, "bob")
	expectMsg(t, mallory, message.KindLogin) // bob's announcement

	mallory.in <- message.NewPlain("alice", "bob", "pretending")

	expectNone(t, bob)
	assert.False(t, mallory.isClosed(), "soft rejection keeps the connection open")
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	carol := loginAs(t, h, "carol")
	expectMsg(t, alice, message.KindLogin) // bob
	expectMsg(t, alice, message.KindLogin) // carol
	expectMsg(t, bob, message.KindLogin)   // carol

	alice.in <- message.NewPlain("alice", message.Broadcast, "hello")

	for _, conn := range []*fakeConn{bob, carol} {
		msg := expectMsg(t, conn, message.KindPlain)
		assert.Equal(t, "alice", msg.Source)
		assert.Equal(t, "hello", msg.Body)
	}
	expectNone(t, alice)
}

func TestUnicastReachesOnlyDestination(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	carol := loginAs(t, h, "carol")
	expectMsg(t, alice, message.KindLogin)
	expectMsg(t, alice, message.KindLogin)
	expectMsg(t, bob, message.KindLogin)

	alice.in <- message.NewPlain("alice", "bob", "psst")

	msg := expectMsg(t, bob, message.KindPlain)
	assert.Equal(t, "psst", msg.Body)
	expectNone(t, carol)
}

func TestUnknownDestinationDropped(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")

	alice.in <- message.NewPlain("alice", "ghost", "anyone there?")

	expectNone(t, alice)
	assert.False(t, alice.isClosed())
}

func TestLogoutBroadcastAndCleanup(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	expectMsg(t, alice, message.KindLogin)

	alice.in <- message.NewLogout("alice", message.Server, "alice")

	farewell := expectMsg(t, bob, message.KindLogout)
	assert.Equal(t, "alice", farewell.Body)

	require.Eventually(t, alice.isClosed, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := h.Registry().Lookup("alice")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublicKeyRecordedAndForwarded(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	expectMsg(t, alice, message.KindLogin)

	priv, err := key_exchange.GenerateKeyPair()
	require.NoError(t, err)
	alice.in <- message.NewPubKey("alice", key_exchange.PublicKeyToJWK(&priv.PublicKey, "alice"))

	forwarded := expectMsg(t, bob, message.KindPubKey)
	assert.Equal(t, "alice", forwarded.Source)
	require.NotNil(t, forwarded.Key)

	s, ok := h.Registry().Lookup("alice")
	require.True(t, ok)
	assert.NotNil(t, s.PublicKey())
}

func TestKeyMessageRelayedOpaquely(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	expectMsg(t, alice, message.KindLogin)

	alice.in <- message.NewKey("alice", "bob", []byte{1, 2, 3, 4})

	relayed := expectMsg(t, bob, message.KindKey)
	assert.Equal(t, []byte{1, 2, 3, 4}, relayed.Cipher)
}

func TestReadFailureTearsSessionDown(t *testing.T) {
	h := newTestHub()
	alice := loginAs(t, h, "alice")
	bob := loginAs(t, h, "bob")
	expectMsg(t, alice, message.KindLogin)

	// The remote end drops the connection.
	require.NoError(t, alice.Close())

	farewell := expectMsg(t, bob, message.KindLogout)
	assert.Equal(t, "alice", farewell.Body)
	require.Eventually(t, func() bool {
		return h.Registry().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
