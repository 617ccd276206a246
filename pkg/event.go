package pkg

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeEnterRoom EventType = "enter_room"
	EventTypeLeaveRoom EventType = "leave_room"
	EventTypeBroadcast EventType = "broadcast"
	EventTypeSend      EventType = "send"
)

// MinEventLength is signature + source + two length prefixes.
const MinEventLength = ed25519.SignatureSize + 16 + 2 + 2

const (
	MaxEventTypeLength = 64
	MaxRoomNameLength  = 255
)

// Event is a signed frame read from a session's connection.
type Event struct {
	Source    uuid.UUID
	EventType EventType
	Room      string
	Payload   []byte
}

// EncodeEvent signs and serializes an event. Clients use the same layout.
func EncodeEvent(key ed25519.PrivateKey, event *Event) ([]byte, error) {
	if len(event.EventType) > MaxEventTypeLength {
		return nil, fmt.Errorf("%w: event type is %d bytes", ErrFieldTooLong, len(event.EventType))
	}
	if len(event.Room) > MaxRoomNameLength {
		return nil, fmt.Errorf("%w: room name is %d bytes", ErrFieldTooLong, len(event.Room))
	}

	body := make([]byte, 16+2+len(event.EventType)+2+len(event.Room)+len(event.Payload))

	offset := 0
	copy(body[offset:offset+16], event.Source[:])
	offset += 16

	binary.BigEndian.PutUint16(body[offset:offset+2], uint16(len(event.EventType)))
	offset += 2
	copy(body[offset:], string(event.EventType))
	offset += len(event.EventType)

	binary.BigEndian.PutUint16(body[offset:offset+2], uint16(len(event.Room)))
	offset += 2
	copy(body[offset:], event.Room)
	offset += len(event.Room)

	copy(body[offset:], event.Payload)

	return append(ed25519.Sign(key, body), body...), nil
}

func decodeEvent(key ed25519.PublicKey, data []byte) (*Event, error) {
	if len(data) < MinEventLength {
		return nil, ErrMessageTooShort
	}

	// Verify the signature over everything that follows it
	signature := data[0:ed25519.SignatureSize]
	if !ed25519.Verify(key, data[ed25519.SignatureSize:], signature) {
		return nil, ErrInvalidSignature
	}

	// Decode the source
	offset := ed25519.SignatureSize
	source, err := uuid.FromBytes(data[offset : offset+16])
	if err != nil {
		return nil, fmt.Errorf("failed to decode source: %w", err)
	}
	offset += 16

	// Decode the event type
	eventTypeLength := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if eventTypeLength > MaxEventTypeLength {
		return nil, fmt.Errorf("%w: event type is %d bytes", ErrFieldTooLong, eventTypeLength)
	}
	if len(data) < offset+eventTypeLength+2 {
		return nil, ErrMessageTooShort
	}
	eventType := EventType(data[offset : offset+eventTypeLength])
	offset += eventTypeLength

	// Decode the room name
	roomLength := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if roomLength > MaxRoomNameLength {
		return nil, fmt.Errorf("%w: room name is %d bytes", ErrFieldTooLong, roomLength)
	}
	if len(data) < offset+roomLength {
		return nil, ErrMessageTooShort
	}
	room := string(data[offset : offset+roomLength])
	offset += roomLength

	return &Event{
		Source:    source,
		EventType: eventType,
		Room:      room,
		Payload:   data[offset:],
	}, nil
}
