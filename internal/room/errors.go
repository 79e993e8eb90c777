package room

import (
	"errors"
	"fmt"
)

var (
	ErrNicknameTaken = errors.New("nickname taken")
	ErrNotAMember    = errors.New("not a member of the room")
	ErrRoomNotFound  = errors.New("room not found")
	ErrPersistence   = errors.New("message log unavailable")
	ErrTargetGone    = errors.New("signaling target is not in the room")
	ErrAlreadyMember = errors.New("already a member of the room")
	ErrInvalidRoom   = errors.New("invalid room identifier")
)

// OpError records the registry operation and room that failed.
type OpError struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, room string, err error) *OpError {
	return &OpError{Op: op, Room: room, Err: err}
}
