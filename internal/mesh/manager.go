package mesh

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// Sender delivers a message to the chat server.
type Sender interface {
	Send(msg *protocol.Message) error
}

// Router subscribes to server events. signaling.Handler implements it.
type Router interface {
	On(fn func(*protocol.Message), types ...string) (unsubscribe func())
}

// Options configure a Manager.
type Options struct {
	RoomID  string
	SelfID  string
	Sender  Sender
	Router  Router
	Factory LinkFactory

	// OnTrack is called on its own goroutine for each remote track.
	OnTrack func(peerID string, t RemoteTrack)
}

type peer struct {
	id      string
	role    Role
	state   State
	session string
	gen     uint64
	runner  *linkRunner

	// remoteSet is true once the remote description has been queued on the
	// runner. Remote candidates arriving earlier wait in pending.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// localSent is true once our offer or answer has gone out. Local
	// candidates gathered earlier wait in outbox.
	localSent bool
	outbox    []webrtc.ICECandidateInit

	tracks []RemoteTrack
}

// Manager keeps one link per room member.
type Manager struct {
	roomID  string
	self    string
	sender  Sender
	router  Router
	factory LinkFactory
	onTrack func(string, RemoteTrack)

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	startOnce   sync.Once
	destroyOnce sync.Once
	unsubscribe []func()

	// Owned by the loop goroutine.
	roster map[string]string
	peers  map[string]*peer
	local  *LocalStream
	gen    uint64

	snapMu  sync.RWMutex
	peerSum []PeerInfo
	streams []Stream
	changes chan struct{}

	logger zerolog.Logger
}

func NewManager(opts Options) *Manager {
	return &Manager{
		roomID:  opts.RoomID,
		self:    opts.SelfID,
		sender:  opts.Sender,
		router:  opts.Router,
		factory: opts.Factory,
		onTrack: opts.OnTrack,
		inbox:   make(chan func(), 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		roster:  make(map[string]string),
		peers:   make(map[string]*peer),
		changes: make(chan struct{}, 1),
		logger:  log.With().Str("component", "mesh").Str("room", opts.RoomID).Logger(),
	}
}

// Start subscribes to room events and starts the event loop. Call it before
// joining the room so existing_users is not missed.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.unsubscribe = append(m.unsubscribe,
			m.router.On(m.receive,
				protocol.TypeUserJoined,
				protocol.TypeUserLeft,
				protocol.TypeExistingUsers,
				protocol.TypeRoomUsers,
				protocol.TypeNicknameChanged,
				protocol.TypeOffer,
				protocol.TypeAnswer,
				protocol.TypeICECandidate,
			))
		go m.run()
	})
}

// SetLocalStream replaces the stream offered to peers and renegotiates.
// Every roster member with a link is linked again as initiator; members
// without one are linked only when s is non-nil. The previous stream is
// stopped.
func (m *Manager) SetLocalStream(s *LocalStream) {
	m.post(func() {
		prev := m.local
		m.local = s
		if prev != nil && prev != s {
			prev.Stop()
		}
		for _, id := range m.rosterIDs() {
			if _, linked := m.peers[id]; linked || s != nil {
				m.initiate(id)
			}
		}
	})
}

// Reconnect tears down the link to peerID and offers a new one.
func (m *Manager) Reconnect(peerID string) {
	m.post(func() {
		if _, ok := m.roster[peerID]; !ok {
			return
		}
		m.initiate(peerID)
	})
}

// Destroy closes every link, stops the local stream and waits for the loop
// to exit. It is safe to call more than once.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() {
		for _, fn := range m.unsubscribe {
			fn()
		}
		m.startOnce.Do(func() { close(m.done) })
		close(m.quit)
	})
	<-m.done
}

// Peers returns every known room member and the state of its link.
func (m *Manager) Peers() []PeerInfo {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return slices.Clone(m.peerSum)
}

// Streams returns the remote media currently received, one entry per peer
// that sent at least one track.
func (m *Manager) Streams() []Stream {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return slices.Clone(m.streams)
}

// Changes is signalled after Peers or Streams changed. Signals coalesce.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.quit:
			for _, id := range m.linkIDs() {
				m.teardown(id)
			}
			m.local.Stop()
			m.local = nil
			m.publish()
			return
		}
	}
}

// post runs fn on the loop. It is dropped once the loop has exited.
func (m *Manager) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.done:
	}
}

func (m *Manager) receive(msg *protocol.Message) {
	if msg.RoomID != "" && msg.RoomID != m.roomID {
		return
	}
	m.post(func() { m.handle(msg) })
}

func (m *Manager) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeUserJoined:
		var p protocol.UserJoinedPayload
		if err := msg.DecodePayload(&p); err != nil || p.ConnectionID == m.self {
			return
		}
		m.roster[p.ConnectionID] = p.Nickname
		if m.local != nil {
			m.initiate(p.ConnectionID)
		}
		m.publish()

	case protocol.TypeExistingUsers:
		var p protocol.UsersPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		for _, u := range p.Users {
			if u.ConnectionID != m.self {
				m.roster[u.ConnectionID] = u.Nickname
			}
		}
		m.publish()

	case protocol.TypeRoomUsers:
		var p protocol.UsersPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		for _, u := range p.Users {
			if _, ok := m.roster[u.ConnectionID]; ok {
				m.roster[u.ConnectionID] = u.Nickname
			}
		}
		m.publish()

	case protocol.TypeNicknameChanged:
		var p protocol.NicknameChangedPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		if _, ok := m.roster[p.ConnectionID]; ok {
			m.roster[p.ConnectionID] = p.NewNickname
			m.publish()
		}

	case protocol.TypeUserLeft:
		var p protocol.UserLeftPayload
		if err := msg.DecodePayload(&p); err != nil {
			return
		}
		m.teardown(p.ConnectionID)
		delete(m.roster, p.ConnectionID)
		m.publish()

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		var env protocol.SignalEnvelope
		if err := msg.DecodePayload(&env); err != nil {
			return
		}
		if env.To != "" && env.To != m.self {
			return
		}
		var sig Signal
		if err := json.Unmarshal(env.Signal, &sig); err != nil {
			m.logger.Debug().Err(err).Str("peer", env.From).Msg("malformed signal")
			return
		}
		m.signal(env.From, &sig)
	}
}

func (m *Manager) signal(from string, sig *Signal) {
	if _, known := m.roster[from]; !known {
		m.logger.Debug().Str("peer", from).Str("signal", sig.Type).Msg("signal from unknown peer")
		return
	}
	p := m.peers[from]

	switch sig.Type {
	case SignalOffer:
		if p != nil {
			switch {
			case p.role == RoleInitiator && !p.remoteSet:
				// Both sides offered. The smaller connection ID keeps its offer.
				if m.self < from {
					m.logger.Debug().Str("peer", from).Msg("glare, keeping our offer")
					return
				}
				m.logger.Debug().Str("peer", from).Msg("glare, yielding to remote offer")
			case p.session == sig.Session:
				return
			}
			m.teardown(from)
		}
		m.respond(from, sig)

	case SignalAnswer:
		if p == nil || p.session != sig.Session || p.role != RoleInitiator || p.remoteSet {
			m.logger.Debug().Str("peer", from).Msg("stale answer")
			return
		}
		p.remoteSet = true
		sdp, gen := sig.SDP, p.gen
		p.runner.enqueue(func(r *linkRunner) {
			if r.link == nil {
				return
			}
			if err := r.link.AcceptAnswer(sdp); err != nil {
				m.fail(from, gen, NewPeerError("accept answer", from, err))
			}
		})
		m.flushPending(p)

	case SignalCandidate:
		if p == nil || p.session != sig.Session || sig.Candidate == nil {
			return
		}
		if !p.remoteSet {
			p.pending = append(p.pending, *sig.Candidate)
			return
		}
		m.addCandidate(p, *sig.Candidate)

	default:
		m.logger.Debug().Err(ErrUnexpectedSignal).Str("peer", from).Str("signal", sig.Type).Send()
	}
}

// initiate replaces any link to id with a fresh one that we offer.
func (m *Manager) initiate(id string) {
	m.teardown(id)
	p := m.newPeer(id, RoleInitiator, uuid.NewString())

	stream, gen, session := m.local, p.gen, p.session
	p.runner.enqueue(func(r *linkRunner) {
		if !m.open(r, id, gen, stream) {
			return
		}
		sdp, err := r.link.CreateOffer()
		if err != nil {
			m.fail(id, gen, NewPeerError("create offer", id, err))
			return
		}
		m.post(func() {
			if p, ok := m.current(id, gen); ok {
				m.sendSignal(id, protocol.TypeOffer, Signal{Session: session, Type: SignalOffer, SDP: sdp})
				m.flushOutbox(p)
			}
		})
	})
	m.publish()
}

// respond creates a link that answers sig.
func (m *Manager) respond(id string, sig *Signal) {
	p := m.newPeer(id, RoleResponder, sig.Session)
	p.remoteSet = true

	stream, gen, session, offer := m.local, p.gen, p.session, sig.SDP
	p.runner.enqueue(func(r *linkRunner) {
		if !m.open(r, id, gen, stream) {
			return
		}
		sdp, err := r.link.AcceptOffer(offer)
		if err != nil {
			m.fail(id, gen, NewPeerError("accept offer", id, err))
			return
		}
		m.post(func() {
			if p, ok := m.current(id, gen); ok {
				m.sendSignal(id, protocol.TypeAnswer, Signal{Session: session, Type: SignalAnswer, SDP: sdp})
				m.flushOutbox(p)
			}
		})
	})
	m.publish()
}

// open creates the link on the runner and attaches the local stream.
func (m *Manager) open(r *linkRunner, id string, gen uint64, stream *LocalStream) bool {
	link, err := m.factory(id, m.eventsFor(id, gen))
	if err != nil {
		m.fail(id, gen, NewPeerError("create link", id, err))
		return false
	}
	r.link = link
	if err := link.AttachStream(stream); err != nil {
		m.fail(id, gen, &LinkError{Op: "attach stream", Peer: id, Err: ErrMediaAcquisition, Details: err.Error()})
		return false
	}
	return true
}

func (m *Manager) newPeer(id string, role Role, session string) *peer {
	m.gen++
	p := &peer{
		id:      id,
		role:    role,
		state:   StateNegotiating,
		session: session,
		gen:     m.gen,
		runner:  newLinkRunner(),
	}
	m.peers[id] = p
	return p
}

// current returns the peer for id if gen is still its live generation.
func (m *Manager) current(id string, gen uint64) (*peer, bool) {
	p, ok := m.peers[id]
	if !ok || p.gen != gen {
		return nil, false
	}
	return p, true
}

func (m *Manager) eventsFor(id string, gen uint64) LinkEvents {
	return LinkEvents{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			m.post(func() {
				p, ok := m.current(id, gen)
				if !ok {
					return
				}
				if !p.localSent {
					p.outbox = append(p.outbox, c)
					return
				}
				m.sendSignal(id, protocol.TypeICECandidate, Signal{Session: p.session, Type: SignalCandidate, Candidate: &c})
			})
		},
		OnState: func(s State) {
			m.post(func() {
				p, ok := m.current(id, gen)
				if !ok {
					return
				}
				switch s {
				case StateClosed:
					m.logger.Info().Str("peer", id).Msg("link failed")
					m.teardown(id)
				default:
					p.state = s
				}
				m.publish()
			})
		},
		OnTrack: func(t RemoteTrack) {
			m.post(func() {
				p, ok := m.current(id, gen)
				if !ok {
					return
				}
				p.tracks = append(p.tracks, t)
				if m.onTrack != nil {
					go m.onTrack(id, t)
				}
				m.publish()
			})
		},
	}
}

// fail is called from a runner when an operation on the link failed. Only
// that peer's link is dropped; the member stays in the roster.
func (m *Manager) fail(id string, gen uint64, err error) {
	m.post(func() {
		if _, ok := m.current(id, gen); !ok {
			return
		}
		m.logger.Warn().Err(err).Str("peer", id).Msg("link dropped")
		m.teardown(id)
		m.publish()
	})
}

func (m *Manager) teardown(id string) {
	p, ok := m.peers[id]
	if !ok {
		return
	}
	delete(m.peers, id)
	p.runner.stop()
}

func (m *Manager) flushPending(p *peer) {
	for _, c := range p.pending {
		m.addCandidate(p, c)
	}
	p.pending = nil
}

func (m *Manager) addCandidate(p *peer, c webrtc.ICECandidateInit) {
	id, gen := p.id, p.gen
	p.runner.enqueue(func(r *linkRunner) {
		if r.link == nil {
			return
		}
		if err := r.link.AddCandidate(c); err != nil {
			// A single bad candidate does not doom the link.
			m.logger.Debug().Err(err).Str("peer", id).Uint64("gen", gen).Msg("add candidate")
		}
	})
}

func (m *Manager) flushOutbox(p *peer) {
	p.localSent = true
	for i := range p.outbox {
		m.sendSignal(p.id, protocol.TypeICECandidate, Signal{Session: p.session, Type: SignalCandidate, Candidate: &p.outbox[i]})
	}
	p.outbox = nil
}

func (m *Manager) sendSignal(to, eventType string, sig Signal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		m.logger.Error().Err(err).Msg("encode signal")
		return
	}
	msg, err := protocol.NewMessage(eventType, m.roomID, protocol.SignalEnvelope{To: to, Signal: raw})
	if err != nil {
		m.logger.Error().Err(err).Msg("encode envelope")
		return
	}
	if err := m.sender.Send(msg); err != nil {
		m.logger.Warn().Err(err).Str("peer", to).Str("type", eventType).Msg("signal not sent")
	}
}

// publish refreshes the snapshots read by Peers and Streams.
func (m *Manager) publish() {
	ids := m.rosterIDs()
	peers := make([]PeerInfo, 0, len(ids))
	var streams []Stream
	for _, id := range ids {
		info := PeerInfo{ID: id, Nickname: m.roster[id]}
		if p, ok := m.peers[id]; ok {
			info.Role, info.State = p.role, p.state
			if len(p.tracks) > 0 {
				streams = append(streams, Stream{PeerID: id, Nickname: info.Nickname, Tracks: slices.Clone(p.tracks)})
			}
		}
		peers = append(peers, info)
	}

	m.snapMu.Lock()
	m.peerSum, m.streams = peers, streams
	m.snapMu.Unlock()

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *Manager) rosterIDs() []string {
	ids := make([]string, 0, len(m.roster))
	for id := range m.roster {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) linkIDs() []string {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
