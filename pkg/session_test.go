package pkg

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendQueueSize:    16,
		MaxContentLength: 64,
	}
}

type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	key     ed25519.PrivateKey
	session uuid.UUID
}

func connect(t *testing.T, server *httptest.Server, studentID uint64, nickname string) *testClient {
	req := require.New(t)
	public, private, err := ed25519.GenerateKey(rand.Reader)
	req.NoError(err)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{
		t:       t,
		conn:    conn,
		key:     private,
		session: uuid.New(),
	}

	hello, err := EncodeSessionHello(&SessionHello{
		PublicKey:   public,
		StudentID:   studentID,
		SessionUUID: c.session,
		Nickname:    nickname,
	})
	req.NoError(err)
	req.NoError(conn.WriteMessage(websocket.BinaryMessage, hello))

	return c
}

func (c *testClient) emit(eventType EventType, room string, message *Message) {
	var payload []byte
	if message != nil {
		var err error
		payload, err = message.MarshalBinary()
		require.NoError(c.t, err)
	}

	data, err := EncodeEvent(c.key, &Event{
		Source:    c.session,
		EventType: eventType,
		Room:      room,
		Payload:   payload,
	})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, data))
}

func (c *testClient) next() *Message {
	req := require.New(c.t)
	req.NoError(c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	_, data, err := c.conn.ReadMessage()
	req.NoError(err)

	var message Message
	req.NoError(message.UnmarshalBinary(data))
	return &message
}

// expect reads the next messages and checks their contents in order.
func (c *testClient) expect(contents ...string) {
	for _, content := range contents {
		require.Equal(c.t, content, c.next().Content)
	}
}

// expectSilence checks nothing arrives for a short while. The connection
// cannot be read from afterwards.
func (c *testClient) expectSilence() {
	req := require.New(c.t)
	req.NoError(c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)))

	_, data, err := c.conn.ReadMessage()
	req.Error(err, "unexpected frame of %d bytes", len(data))

	var netErr net.Error
	req.ErrorAs(err, &netErr)
	req.True(netErr.Timeout())
}

// enter joins the room and consumes the join notice and the welcome.
func (c *testClient) enter(room, nickname string) {
	c.emit(EventTypeEnterRoom, room, nil)
	c.expect(nickname+" has joined the room.", "Welcome to "+room+"!")
}

func roomIDs(m *Manager, name string) []uint64 {
	room := m.GetRoom(name)
	if room == nil {
		return nil
	}
	return room.AllMemberIDs()
}

func TestSession_Receive_QueuesWithoutBlocking(t *testing.T) {
	req := require.New(t)
	s := &Session{
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	message := NewMessage(KindText, 1, "hi")

	req.NoError(s.Receive(message))
	req.ErrorIs(s.Receive(message), ErrSendBufferFull)

	s.close()
	s.close()
	req.ErrorIs(s.Receive(message), ErrSessionClosed)
}

func TestSession_Receive_UsesSealedEncoding(t *testing.T) {
	req := require.New(t)
	s := &Session{
		send: make(chan []byte, 2),
		done: make(chan struct{}),
	}
	message := NewMessage(KindText, 1, "sealed")
	req.NoError(message.Seal())
	message.Content = "changed"

	req.NoError(s.Receive(message))
	req.NoError(s.Receive(message))

	first, second := <-s.send, <-s.send
	req.Same(&first[0], &second[0])

	var decoded Message
	req.NoError(decoded.UnmarshalBinary(first))
	req.Equal("sealed", decoded.Content)
}

func TestManager_JoinAndLeaveRoom(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	a := &Session{uuid: uuid.New(), client: &Client{id: 1}}
	b := &Session{uuid: uuid.New(), client: &Client{id: 2}}

	room := m.JoinRoom("lobby", a)
	req.Same(room, m.JoinRoom("lobby", b))
	req.Equal([]uint64{1, 2}, roomIDs(m, "lobby"))

	req.Same(room, m.LeaveRoom("lobby", a))
	req.Equal([]uint64{2}, roomIDs(m, "lobby"))

	// The room is forgotten with its last member
	m.LeaveRoom("lobby", b)
	req.Nil(m.GetRoom("lobby"))
	req.Nil(m.LeaveRoom("lobby", b))
}

func TestManager_NewSession_RejectsDuplicate(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	hello := &SessionHello{StudentID: 3, SessionUUID: uuid.New()}

	s, err := m.NewSession(hello, nil)
	req.NoError(err)
	req.Equal(uint64(3), s.ID())
	req.Equal(hello.SessionUUID, s.UUID())
	req.Len(m.GetClient(3).Sessions(), 1)

	_, err = m.NewSession(hello, nil)
	req.ErrorIs(err, ErrSessionExists)

	m.DeleteSession(s)
	req.Nil(m.GetClient(3))
}

func TestSocket_BroadcastSendAndLeave(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	server := httptest.NewServer(http.HandlerFunc(m.SocketHandler))
	defer server.Close()

	alice := connect(t, server, 1, "alice")
	bob := connect(t, server, 2, "bob")

	// Given alice and bob entered the lobby
	alice.enter("lobby", "alice")
	bob.enter("lobby", "bob")
	alice.expect("bob has joined the room.")
	req.Equal([]uint64{1, 2}, roomIDs(m, "lobby"))

	// When alice broadcasts, both receive it from alice
	alice.emit(EventTypeBroadcast, "lobby", NewMessage(KindText, 99, "hello lobby"))
	for _, c := range []*testClient{alice, bob} {
		received := c.next()
		req.Equal(KindText, received.Kind)
		req.Equal(uint64(1), received.From)
		req.Equal("alice", received.Nickname)
		req.Equal("hello lobby", received.Content)
	}

	// When bob sends to alice directly, only alice receives it
	direct := NewMessage(KindEmoji, 2, ":wave:")
	direct.To = 1
	bob.emit(EventTypeSend, "lobby", direct)
	received := alice.next()
	req.Equal(direct.ID, received.ID)
	req.Equal(uint64(2), received.From)
	req.Equal("bob", received.Nickname)

	// A student outside the room cannot dispatch into it. Carol's frames
	// are handled in order, so once she is in the side room her lobby
	// broadcast has been dropped.
	carol := connect(t, server, 3, "carol")
	carol.emit(EventTypeBroadcast, "lobby", NewMessage(KindText, 3, "let me in"))
	carol.enter("side", "carol")
	bob.emit(EventTypeBroadcast, "lobby", NewMessage(KindText, 2, "still here"))
	alice.expect("still here")
	bob.expect("still here")

	// When alice leaves, bob is told and remains
	alice.emit(EventTypeLeaveRoom, "lobby", nil)
	bob.expect("alice has left the room.")
	req.Equal([]uint64{2}, roomIDs(m, "lobby"))

	// Nothing else reached alice or bob
	alice.expectSilence()
	bob.expectSilence()

	// When bob disconnects, the room is gone
	req.NoError(bob.conn.Close())
	req.Eventually(func() bool {
		return m.GetRoom("lobby") == nil && m.GetClient(2) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_SendReachesEveryConnectionOfStudent(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	server := httptest.NewServer(http.HandlerFunc(m.SocketHandler))
	defer server.Close()

	// Given alice is connected twice and bob once
	laptop := connect(t, server, 1, "alice")
	phone := connect(t, server, 1, "alice")
	bob := connect(t, server, 2, "bob")

	laptop.enter("lobby", "alice")
	phone.enter("lobby", "alice")
	laptop.expect("alice has joined the room.")
	bob.enter("lobby", "bob")
	laptop.expect("bob has joined the room.")
	phone.expect("bob has joined the room.")
	req.Equal([]uint64{1, 1, 2}, roomIDs(m, "lobby"))
	for _, session := range m.GetClient(1).Sessions() {
		req.Len(session.Rooms(), 1)
		req.Equal("alice", session.Nickname())
	}

	// When bob sends to alice, each of her connections gets it once
	dm := NewMessage(KindText, 2, "dm")
	dm.To = 1
	bob.emit(EventTypeSend, "lobby", dm)
	laptop.expect("dm")
	phone.expect("dm")

	// When the laptop leaves, only the phone gets the next one
	laptop.emit(EventTypeLeaveRoom, "lobby", nil)
	phone.expect("alice has left the room.")
	bob.expect("alice has left the room.")
	req.Equal([]uint64{1, 2}, roomIDs(m, "lobby"))

	dm2 := NewMessage(KindText, 2, "dm2")
	dm2.To = 1
	bob.emit(EventTypeSend, "lobby", dm2)
	phone.expect("dm2")

	laptop.expectSilence()
	phone.expectSilence()
	bob.expectSilence()
}

func TestSocket_DisconnectAnnouncesLeave(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	server := httptest.NewServer(http.HandlerFunc(m.SocketHandler))
	defer server.Close()

	alice := connect(t, server, 1, "")
	bob := connect(t, server, 2, "bob")

	// An empty nickname falls back to the default
	alice.enter("lobby", DefaultNickname)
	bob.enter("lobby", "bob")
	alice.expect("bob has joined the room.")

	req.NoError(alice.conn.Close())
	bob.expect(DefaultNickname + " has left the room.")
	req.Eventually(func() bool {
		return m.GetClient(1) == nil
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal([]uint64{2}, roomIDs(m, "lobby"))
}

func TestSocket_OversizedFrameClosesSession(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	server := httptest.NewServer(http.HandlerFunc(m.SocketHandler))
	defer server.Close()

	c := connect(t, server, 5, "eve")
	c.enter("lobby", "eve")

	// A frame one byte over the limit ends the session
	req.NoError(c.conn.WriteMessage(websocket.BinaryMessage, make([]byte, m.ReadLimit()+1)))

	req.Eventually(func() bool {
		return m.GetClient(5) == nil && m.GetRoom("lobby") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_InvalidSignatureClosesSession(t *testing.T) {
	req := require.New(t)
	m := NewManager(testConfig())
	server := httptest.NewServer(http.HandlerFunc(m.SocketHandler))
	defer server.Close()

	c := connect(t, server, 4, "mallory")
	req.Eventually(func() bool {
		return m.GetClient(4) != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, forged, err := ed25519.GenerateKey(rand.Reader)
	req.NoError(err)
	c.key = forged
	c.emit(EventTypeEnterRoom, "lobby", nil)

	req.Eventually(func() bool {
		return m.GetClient(4) == nil
	}, 2*time.Second, 10*time.Millisecond)
	req.Nil(m.GetRoom("lobby"))
}
