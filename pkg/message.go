package pkg

import (
	"encoding/binary"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MessageKind classifies a chat message. The room never looks at it.
type MessageKind uint8

const (
	KindText MessageKind = iota + 1
	KindImage
	KindGif
	KindVideo
	KindEmoji
)

var kindNames = map[MessageKind]string{
	KindText:  "text",
	KindImage: "image",
	KindGif:   "gif",
	KindVideo: "video",
	KindEmoji: "emoji",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k MessageKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsMedia reports whether the content is a path to media rather than text.
func (k MessageKind) IsMedia() bool {
	return k == KindImage || k == KindGif || k == KindVideo
}

// Message is a single chat message. For text and emoji messages Content is
// the text itself; for media kinds it is a path or URL to the media.
// Nickname is the sender's display name; server notices have From 0 and no
// nickname.
type Message struct {
	ID       uuid.UUID
	Kind     MessageKind `validate:"required"`
	From     uint64
	To       uint64
	Nickname string `validate:"max=32"`
	Content  string `validate:"required"`

	encoded []byte
}

// messageHeaderLength is kind + from + to + id + nickname length + content
// length.
const messageHeaderLength = 1 + 8 + 8 + 16 + 1 + 4

// MaxNicknameLength bounds nicknames in hellos and messages, in bytes.
const MaxNicknameLength = 32

var validate = validator.New()

func NewMessage(kind MessageKind, from uint64, content string) *Message {
	return &Message{
		ID:      uuid.New(),
		Kind:    kind,
		From:    from,
		Content: content,
	}
}

// NewNotice builds a server notice, which has no sender.
func NewNotice(format string, args ...any) *Message {
	return NewMessage(KindText, 0, fmt.Sprintf(format, args...))
}

// Validate checks the message is well formed and its content fits in
// maxContentLength characters.
func (m *Message) Validate(maxContentLength int) error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}

	if err := validate.Var(m.Content, fmt.Sprintf("max=%d", maxContentLength)); err != nil {
		return fmt.Errorf("invalid message content: %w", err)
	}

	return nil
}

// Seal encodes the message once so every recipient of a dispatch shares the
// same bytes. The message must not be modified afterwards.
func (m *Message) Seal() error {
	m.encoded = nil

	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	m.encoded = data
	return nil
}

// Bytes returns the sealed encoding, or encodes the message if it was never
// sealed.
func (m *Message) Bytes() ([]byte, error) {
	if m.encoded != nil {
		return m.encoded, nil
	}
	return m.MarshalBinary()
}

func (m *Message) MarshalBinary() ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}

	if len(m.Nickname) > MaxNicknameLength {
		return nil, fmt.Errorf("%w: nickname is %d bytes", ErrFieldTooLong, len(m.Nickname))
	}

	data := make([]byte, messageHeaderLength+len(m.Nickname)+len(m.Content))

	offset := 0
	data[offset] = byte(m.Kind)
	offset++

	binary.BigEndian.PutUint64(data[offset:offset+8], m.From)
	offset += 8

	binary.BigEndian.PutUint64(data[offset:offset+8], m.To)
	offset += 8

	copy(data[offset:offset+16], m.ID[:])
	offset += 16

	data[offset] = byte(len(m.Nickname))
	offset++
	copy(data[offset:], m.Nickname)
	offset += len(m.Nickname)

	binary.BigEndian.PutUint32(data[offset:offset+4], uint32(len(m.Content)))
	offset += 4

	copy(data[offset:], m.Content)

	return data, nil
}

func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) < messageHeaderLength {
		return ErrMessageTooShort
	}

	// Decode the kind
	offset := 0
	kind := MessageKind(data[offset])
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	offset++

	// Decode the sender and recipient
	from := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8
	to := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	// Decode the message id
	id, err := uuid.FromBytes(data[offset : offset+16])
	if err != nil {
		return fmt.Errorf("failed to decode message id: %w", err)
	}
	offset += 16

	// Decode the nickname
	nicknameLength := int(data[offset])
	offset++
	if len(data) < offset+nicknameLength+4 {
		return ErrMessageTooShort
	}
	nickname := string(data[offset : offset+nicknameLength])
	offset += nicknameLength

	// Decode the content
	length := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if uint64(len(data)-offset) < uint64(length) {
		return ErrMessageTooShort
	}

	m.ID = id
	m.Kind = kind
	m.From = from
	m.To = to
	m.Nickname = nickname
	m.Content = string(data[offset : offset+int(length)])
	m.encoded = nil

	return nil
}
