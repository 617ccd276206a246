//go:generate go run go.uber.org/mock/mockgen -source=participant.go -destination=mocks/mock_participant.go -package=mocks

package pkg

// Participant is anything that can be a member of a Room.
//
// ID is the student id used to address a participant. Two handles may share
// an ID (one student with two connections) and are still distinct members;
// the room compares handles, so implementations must be comparable, which in
// practice means pointer types. A nil pointer wrapped in a Participant is
// not a member: Join ignores it like an untyped nil.
//
// Receive is called while the room's lock is held. It must return promptly
// and must not call back into the same room.
type Participant interface {
	ID() uint64
	Receive(message *Message) error
}
