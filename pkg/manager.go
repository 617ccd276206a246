package pkg

import (
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Manager tracks the connected students, their sessions and the rooms that
// currently have members. Lock order is manager, then room.
type Manager struct {
	lock     sync.RWMutex
	config   *Config
	clients  map[uint64]*Client
	sessions map[uuid.UUID]*Session
	rooms    map[string]*Room
	upgrader websocket.Upgrader
}

func NewManager(config *Config) *Manager {
	return &Manager{
		lock:     sync.RWMutex{},
		config:   config,
		clients:  make(map[uint64]*Client),
		sessions: make(map[uuid.UUID]*Session),
		rooms:    make(map[string]*Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (m *Manager) NewSession(
	sessionHello *SessionHello,
	conn *websocket.Conn,
) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.sessions[sessionHello.SessionUUID]; ok {
		return nil, ErrSessionExists
	}

	c, ok := m.clients[sessionHello.StudentID]
	if !ok {
		c = &Client{
			lock:     sync.RWMutex{},
			id:       sessionHello.StudentID,
			sessions: make([]*Session, 0),
		}

		m.clients[sessionHello.StudentID] = c

		RoomServerClientsGauge.Inc()
	}

	s := &Session{
		manager: m,
		client:  c,
		lock:    sync.RWMutex{},
		uuid:    sessionHello.SessionUUID,
		key:     sessionHello.PublicKey,
		conn:    conn,
		send:    make(chan []byte, m.config.SendQueueSize),
		done:    make(chan struct{}),
		rooms:   make([]*Room, 0),
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.nickname = sessionHello.Nickname
	c.sessions = append(c.sessions, s)
	m.sessions[s.uuid] = s

	RoomServerSessionsGauge.Inc()

	return s, nil
}

func (m *Manager) GetRoom(name string) *Room {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.rooms[name]
}

// JoinRoom adds p to the named room, creating the room if it has no members
// yet. Creation and join happen under the manager lock so a concurrent
// LeaveRoom cannot drop the room in between.
func (m *Manager) JoinRoom(name string, p Participant) *Room {
	m.lock.Lock()
	defer m.lock.Unlock()

	room, ok := m.rooms[name]
	if !ok {
		room = NewRoom(name)
		m.rooms[name] = room

		RoomServerRoomsGauge.Inc()
	}

	room.Join(p)

	return room
}

// LeaveRoom removes p from the named room and forgets the room once it is
// empty. It returns the room, or nil if no such room exists.
func (m *Manager) LeaveRoom(name string, p Participant) *Room {
	m.lock.Lock()
	defer m.lock.Unlock()

	room, ok := m.rooms[name]
	if !ok {
		return nil
	}

	m.leaveRoomLocked(room, p)

	return room
}

func (m *Manager) leaveRoomLocked(room *Room, p Participant) {
	room.Leave(p)

	if room.Len() == 0 && m.rooms[room.Name()] == room {
		delete(m.rooms, room.Name())

		RoomServerRoomsGauge.Dec()
	}
}

func (m *Manager) GetClient(id uint64) *Client {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.clients[id]
}

func (m *Manager) DeleteSession(session *Session) {
	m.lock.Lock()
	defer m.lock.Unlock()

	s, ok := m.sessions[session.uuid]
	if !ok {
		return
	}

	delete(m.sessions, session.uuid)

	s.close()

	for _, room := range s.takeRooms() {
		m.leaveRoomLocked(room, s)
		s.announce(room, NewNotice("%s has left the room.", s.Nickname()))
	}

	RoomServerSessionsGauge.Dec()

	// Remove the session from the client
	s.client.lock.Lock()
	defer s.client.lock.Unlock()
	for i, session := range s.client.sessions {
		if session.uuid == s.uuid {
			s.client.sessions = append(
				s.client.sessions[:i], s.client.sessions[i+1:]...)
			break
		}
	}

	if len(s.client.sessions) == 0 {
		delete(m.clients, s.client.id)
		RoomServerClientsGauge.Dec()
	}
}

// ReadLimit is the largest frame a session may send: an event with the
// longest event type and room name carrying a message with the longest
// nickname and content.
func (m *Manager) ReadLimit() int64 {
	return int64(MinEventLength + MaxEventTypeLength + MaxRoomNameLength +
		messageHeaderLength + MaxNicknameLength +
		utf8.UTFMax*m.config.MaxContentLength)
}

func (m *Manager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func (m *Manager) SocketHandler(w http.ResponseWriter, r *http.Request) {
	// Set the response headers
	w.Header().Set("Cache-Control", "no-cache")

	// Upgrade the connection to a websocket connection
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: ", err)
		return
	}

	defer conn.Close()

	conn.SetReadLimit(m.ReadLimit())

	// Read the session hello message
	_, message, err := conn.ReadMessage()
	if err != nil {
		log.Error("Failed to read session hello message: ", err)
		return
	}

	// Decode the session hello message
	sessionHello, err := decodeSessionHello(message)
	if err != nil {
		log.Error("Failed to decode session hello message: ", err)
		return
	}

	// Register our new session
	session, err := m.NewSession(sessionHello, conn)
	if err != nil {
		log.Error("Failed to register session: ", err)
		return
	}

	defer m.DeleteSession(session)

	logFields := log.Fields{
		"student": session.client.id,
		"session": session.uuid,
	}

	log.WithFields(logFields).Info("New session")

	// Start reading messages from the connection
	go session.read()

	// Write messages to the connection
	session.write()

	log.WithFields(logFields).Info("Closed session")
}
