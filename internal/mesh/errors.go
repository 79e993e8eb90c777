package mesh

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaAcquisition reports that the local stream could not be
	// produced or attached. It only ever affects the link it happened on.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrLinkClosed       = errors.New("link closed")
)

// LinkError records which operation failed toward which peer.
type LinkError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *LinkError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Peer != "" {
		msg = fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *LinkError {
	return &LinkError{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *LinkError {
	return &LinkError{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *LinkError {
	return &LinkError{Op: op, Err: err, Details: details}
}
