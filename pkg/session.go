package pkg

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// SessionHelloSize is public key + student id + session uuid + nickname
// length, without the nickname itself.
const SessionHelloSize = ed25519.PublicKeySize + 8 + 16 + 1

// DefaultNickname is used when a hello carries no nickname.
const DefaultNickname = "anonymous"

// Session is one websocket connection of a student. It is the Participant
// that joins rooms on the student's behalf.
type Session struct {
	manager   *Manager
	client    *Client
	lock      sync.RWMutex
	uuid      uuid.UUID
	key       ed25519.PublicKey
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	rooms     []*Room
}

type SessionHello struct {
	PublicKey   ed25519.PublicKey
	StudentID   uint64
	SessionUUID uuid.UUID
	Nickname    string
}

func (s *Session) ID() uint64 {
	return s.client.id
}

func (s *Session) UUID() uuid.UUID {
	return s.uuid
}

func (s *Session) Nickname() string {
	return s.client.Nickname()
}

// Receive queues message for the writer without blocking, since it runs
// under the lock of the room dispatching it.
func (s *Session) Receive(message *Message) error {
	data, err := message.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- data:
		RoomServerDeliveriesCounter.WithLabelValues(message.Kind.String()).Inc()
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *Session) Rooms() []*Room {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]*Room(nil), s.rooms...)
}

// takeRooms empties the session's room list and returns what it held.
func (s *Session) takeRooms() []*Room {
	s.lock.Lock()
	defer s.lock.Unlock()
	rooms := s.rooms
	s.rooms = make([]*Room, 0)
	return rooms
}

func (s *Session) inRoom(name string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, room := range s.rooms {
		if room.Name() == name {
			return true
		}
	}
	return false
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) logFields(event *Event) log.Fields {
	return log.Fields{
		"student":    s.client.id,
		"session":    s.uuid,
		"room":       event.Room,
		"event_type": event.EventType,
	}
}

// announce broadcasts a server notice to the room. Failures only get logged,
// like any other dispatch.
func (s *Session) announce(room *Room, notice *Message) {
	fields := log.Fields{
		"student": s.client.id,
		"session": s.uuid,
		"room":    room.Name(),
	}

	if err := notice.Seal(); err != nil {
		log.WithFields(fields).Error("Failed to encode notice: ", err)
		return
	}

	if err := room.Broadcast(notice); err != nil {
		RoomServerFailedDeliveriesCounter.WithLabelValues("notice").Inc()
		log.WithFields(fields).Warn("Failed to deliver notice: ", err)
	}
}

func (s *Session) handleEnterRoom(event *Event) {
	// A session is a member of a room at most once
	if s.inRoom(event.Room) {
		return
	}

	room := s.manager.JoinRoom(event.Room, s)

	s.lock.Lock()
	s.rooms = append(s.rooms, room)
	s.lock.Unlock()

	// The session may have been deleted while joining
	select {
	case <-s.done:
		s.handleLeaveRoom(event)
		return
	default:
	}

	s.announce(room, NewNotice("%s has joined the room.", s.Nickname()))

	welcome := NewNotice("Welcome to %s!", room.Name())
	if err := room.Send(welcome, s); err != nil {
		log.WithFields(s.logFields(event)).Warn("Failed to deliver welcome: ", err)
	}
}

func (s *Session) handleLeaveRoom(event *Event) {
	if !s.removeRoom(event.Room) {
		return
	}

	if room := s.manager.LeaveRoom(event.Room, s); room != nil {
		s.announce(room, NewNotice("%s has left the room.", s.Nickname()))
	}
}

// removeRoom forgets the named room and reports whether the session was in it.
func (s *Session) removeRoom(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, room := range s.rooms {
		if room.Name() == name {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			return true
		}
	}
	return false
}

// dispatchTarget decodes the payload of a broadcast or send event and
// resolves the room it is addressed to.
func (s *Session) dispatchTarget(event *Event) (*Room, *Message, error) {
	var message Message
	if err := message.UnmarshalBinary(event.Payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	if err := message.Validate(s.manager.config.MaxContentLength); err != nil {
		return nil, nil, err
	}

	// The sender is always the session's own student
	message.From = s.ID()
	message.Nickname = s.Nickname()

	room := s.manager.GetRoom(event.Room)
	if room == nil {
		return nil, nil, ErrNoSuchRoom
	}

	if !room.Contains(s) {
		return nil, nil, ErrNotAMember
	}

	if err := message.Seal(); err != nil {
		return nil, nil, err
	}

	return room, &message, nil
}

func (s *Session) handleBroadcast(event *Event) error {
	room, message, err := s.dispatchTarget(event)
	if err != nil {
		return err
	}

	if err := room.Broadcast(message); err != nil {
		RoomServerFailedDeliveriesCounter.WithLabelValues(string(event.EventType)).Inc()
		log.WithFields(s.logFields(event)).Warn("Failed to deliver broadcast: ", err)
	}

	return nil
}

func (s *Session) handleSend(event *Event) error {
	room, message, err := s.dispatchTarget(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, member := range room.MembersWithID(message.To) {
		if err := room.Send(message, member); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		RoomServerFailedDeliveriesCounter.WithLabelValues(string(event.EventType)).Inc()
		log.WithFields(s.logFields(event)).Warn("Failed to deliver message: ", err)
	}

	return nil
}

func (s *Session) handleMessage(data []byte) error {
	event, err := decodeEvent(s.key, data)
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if event.Source != s.uuid {
		return fmt.Errorf("event source %s does not match session", event.Source)
	}

	switch event.EventType {
	case EventTypeEnterRoom:
		s.handleEnterRoom(event)
	case EventTypeLeaveRoom:
		s.handleLeaveRoom(event)
	case EventTypeBroadcast:
		err = s.handleBroadcast(event)
	case EventTypeSend:
		err = s.handleSend(event)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType)
	}

	// Dispatching into a room the session is not in is not fatal
	if errors.Is(err, ErrNoSuchRoom) || errors.Is(err, ErrNotAMember) {
		log.WithFields(s.logFields(event)).Info("Dropped message: ", err)
		return nil
	}

	return err
}

func (s *Session) read() {
	defer s.close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil && !websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway) {
			log.Error("Failed to read message: ", err)
		}

		if err != nil {
			break
		}

		err = s.handleMessage(message)
		if err != nil {
			log.Error("Failed to handle message: ", err)
			break
		}
	}
}

func (s *Session) write() {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			err := s.conn.WriteMessage(websocket.BinaryMessage, message)
			if err != nil {
				log.Error("Failed to write message: ", err)
				return
			}
		}
	}
}

func decodeSessionHello(message []byte) (*SessionHello, error) {
	var err error

	if len(message) < SessionHelloSize {
		return nil, ErrMessageTooShort
	}

	var hello SessionHello

	offset := 0
	length := ed25519.PublicKeySize
	hello.PublicKey = ed25519.PublicKey(message[offset : offset+length])
	offset += length

	length = 8
	hello.StudentID = binary.BigEndian.Uint64(message[offset : offset+length])
	offset += length

	length = 16
	hello.SessionUUID, err = uuid.FromBytes(message[offset : offset+length])
	if err != nil {
		return nil, err
	}
	offset += length

	length = int(message[offset])
	offset++
	if length > MaxNicknameLength {
		return nil, fmt.Errorf("%w: nickname is %d bytes", ErrFieldTooLong, length)
	}
	if len(message) < offset+length {
		return nil, ErrMessageTooShort
	}
	hello.Nickname = string(message[offset : offset+length])
	if hello.Nickname == "" {
		hello.Nickname = DefaultNickname
	}

	return &hello, nil
}

// EncodeSessionHello builds the first frame a client sends.
func EncodeSessionHello(hello *SessionHello) ([]byte, error) {
	if len(hello.Nickname) > MaxNicknameLength {
		return nil, fmt.Errorf("%w: nickname is %d bytes", ErrFieldTooLong, len(hello.Nickname))
	}

	data := make([]byte, SessionHelloSize+len(hello.Nickname))

	offset := 0
	copy(data[offset:offset+ed25519.PublicKeySize], hello.PublicKey)
	offset += ed25519.PublicKeySize

	binary.BigEndian.PutUint64(data[offset:offset+8], hello.StudentID)
	offset += 8

	copy(data[offset:offset+16], hello.SessionUUID[:])
	offset += 16

	data[offset] = byte(len(hello.Nickname))
	offset++
	copy(data[offset:], hello.Nickname)

	return data, nil
}
