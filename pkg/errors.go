package pkg

import "errors"

var (
	ErrMessageTooShort  = errors.New("message is too short")
	ErrInvalidSignature = errors.New("failed to verify signature")
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrSessionExists    = errors.New("session already exists")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSendBufferFull   = errors.New("send buffer is full")
	ErrNotAMember       = errors.New("sender is not a member of the room")
	ErrNoSuchRoom       = errors.New("room does not exist")
	ErrFieldTooLong     = errors.New("field is too long")
)
