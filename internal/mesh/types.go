// Package mesh maintains one WebRTC link to every other member of a room.
//
// A Manager runs a single event loop that owns all of its state. Server
// events, results of pion operations and pion callbacks all re-enter the
// loop as posted closures, so no manager state is shared between
// goroutines. Blocking pion calls run on a per-link runner.
package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Role says which side of a link sent the offer.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "-"
	}
}

// State is where a link is in its lifecycle.
type State int

const (
	StateAbsent State = iota
	StateNegotiating
	StateLinked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateLinked:
		return "linked"
	case StateClosed:
		return "closed"
	default:
		return "absent"
	}
}

// Signal kinds carried inside the opaque relay payload.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is the payload one mesh sends another through the relay. Session
// identifies the link it belongs to; the initiator picks it and the
// responder echoes it.
type Signal struct {
	Session   string                   `json:"session"`
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// RemoteTrack is a media track received from a peer.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// LocalStream is the media offered to every peer. A stream without tracks
// only receives.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

func NewLocalStream(id string, tracks []webrtc.TrackLocal, stop func()) *LocalStream {
	return &LocalStream{ID: id, Tracks: tracks, stop: stop}
}

// Stop releases whatever produces the stream. It is safe to call twice.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Link is one peer connection. Its methods block and are only ever called
// from the link's runner goroutine.
type Link interface {
	AttachStream(s *LocalStream) error
	CreateOffer() (string, error)
	AcceptOffer(sdp string) (string, error)
	AcceptAnswer(sdp string) error
	AddCandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// LinkEvents are the callbacks a Link reports through. They may be called
// from any goroutine.
type LinkEvents struct {
	OnCandidate func(c webrtc.ICECandidateInit)
	OnState     func(s State)
	OnTrack     func(t RemoteTrack)
}

// LinkFactory creates a link toward peerID.
type LinkFactory func(peerID string, ev LinkEvents) (Link, error)

// PeerInfo is a snapshot of one roster member.
type PeerInfo struct {
	ID       string
	Nickname string
	Role     Role
	State    State
}

// Stream is a snapshot of the media received from one peer.
type Stream struct {
	PeerID   string
	Nickname string
	Tracks   []RemoteTrack
}
