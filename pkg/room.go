package pkg

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/samber/lo"
)

// Room is a named group of participants. Every operation holds the room lock
// for its whole duration, so operations on one room are linearized and a
// broadcast always sees a single consistent membership.
type Room struct {
	lock    sync.Mutex
	name    string
	members []Participant
}

func NewRoom(name string) *Room {
	return &Room{
		lock:    sync.Mutex{},
		name:    name,
		members: make([]Participant, 0),
	}
}

func (r *Room) Name() string {
	return r.name
}

// Join appends p to the room. Joining the same handle twice adds it twice.
// Nil handles, typed or not, are ignored.
func (r *Room) Join(p Participant) {
	if isNil(p) {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.members = append(r.members, p)
}

// Leave removes every entry that is the handle p. Other handles with the same
// ID stay in the room.
func (r *Room) Leave(p Participant) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.members = lo.Filter(r.members, func(member Participant, _ int) bool {
		return member != p
	})
}

// Broadcast delivers message to every member in membership order. A failed
// delivery does not stop the others; all failures are returned joined.
func (r *Room) Broadcast(message *Message) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	var errs []error
	for _, member := range r.members {
		if err := member.Receive(message); err != nil {
			errs = append(errs, fmt.Errorf("member %d: %w", member.ID(), err))
		}
	}

	return errors.Join(errs...)
}

// Send delivers message once to to, but only if to is currently a member.
func (r *Room) Send(message *Message, to Participant) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if to == nil || !lo.Contains(r.members, to) {
		return nil
	}

	if err := to.Receive(message); err != nil {
		return fmt.Errorf("member %d: %w", to.ID(), err)
	}

	return nil
}

func (r *Room) AllMemberIDs() []uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return lo.Map(r.members, func(member Participant, _ int) uint64 {
		return member.ID()
	})
}

// MembersWithID returns the distinct handles currently joined under id.
func (r *Room) MembersWithID(id uint64) []Participant {
	r.lock.Lock()
	defer r.lock.Unlock()
	return lo.Uniq(lo.Filter(r.members, func(member Participant, _ int) bool {
		return member.ID() == id
	}))
}

func (r *Room) Contains(p Participant) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return lo.Contains(r.members, p)
}

func (r *Room) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.members)
}

func isNil(p Participant) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
