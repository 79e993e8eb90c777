package mesh

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/signaling"
)

const testRoom = "demo"

type feed chan *protocol.Message

func (f feed) Incoming() <-chan *protocol.Message { return f }

// bus relays signals between nodes the way the server does: From is
// stamped, To selects one node, otherwise every other node receives it.
type bus struct {
	mu    sync.Mutex
	nodes map[string]feed
	held  bool
	queue []delivery
}

type delivery struct {
	to  feed
	msg *protocol.Message
}

func newBus() *bus {
	return &bus{nodes: make(map[string]feed)}
}

func (b *bus) route(from string, msg *protocol.Message) {
	var env protocol.SignalEnvelope
	if err := msg.DecodePayload(&env); err != nil {
		return
	}
	env.From = from
	out := protocol.MustMessage(msg.Type, msg.RoomID, env)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, f := range b.nodes {
		if id == from || (env.To != "" && env.To != id) {
			continue
		}
		if b.held {
			b.queue = append(b.queue, delivery{to: f, msg: out})
			continue
		}
		f <- out
	}
}

func (b *bus) hold() {
	b.mu.Lock()
	b.held = true
	b.mu.Unlock()
}

func (b *bus) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held = false
	for _, d := range b.queue {
		d.to <- d.msg
	}
	b.queue = nil
}

func (b *bus) queued(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, d := range b.queue {
		if d.msg.Type == eventType {
			n++
		}
	}
	return n
}

type endpoint struct {
	bus *bus
	id  string
}

func (e endpoint) Send(msg *protocol.Message) error {
	if protocol.IsSignal(msg.Type) {
		e.bus.route(e.id, msg)
	}
	return nil
}

type fakeTrack struct{ id string }

func (f fakeTrack) ID() string                { return f.id }
func (f fakeTrack) StreamID() string          { return "stream-" + f.id }
func (f fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

type fakeLink struct {
	self, peer string
	ev         LinkEvents
	attachErr  error

	mu     sync.Mutex
	ops    []string
	closed bool
}

func (l *fakeLink) record(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *fakeLink) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.ops)
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) AttachStream(*LocalStream) error {
	l.record("attach")
	return l.attachErr
}

func (l *fakeLink) CreateOffer() (string, error) {
	l.record("offer")
	l.ev.OnCandidate(webrtc.ICECandidateInit{Candidate: "cand-" + l.self})
	return "offer-from-" + l.self, nil
}

func (l *fakeLink) AcceptOffer(sdp string) (string, error) {
	l.record("accept-offer:" + sdp)
	l.ev.OnCandidate(webrtc.ICECandidateInit{Candidate: "cand-" + l.self})
	l.ev.OnState(StateLinked)
	return "answer-from-" + l.self, nil
}

func (l *fakeLink) AcceptAnswer(sdp string) error {
	l.record("accept-answer:" + sdp)
	l.ev.OnState(StateLinked)
	l.ev.OnTrack(fakeTrack{id: l.peer + "-video"})
	return nil
}

func (l *fakeLink) AddCandidate(c webrtc.ICECandidateInit) error {
	l.record("candidate:" + c.Candidate)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

type node struct {
	id     string
	in     feed
	mgr    *Manager
	tracks chan string

	mu        sync.Mutex
	links     []*fakeLink
	attachErr error
}

func newNode(t *testing.T, b *bus, id string) *node {
	t.Helper()
	n := &node{id: id, in: make(feed, 256), tracks: make(chan string, 8)}

	b.mu.Lock()
	b.nodes[id] = n.in
	b.mu.Unlock()

	h := signaling.NewHandler(n.in)
	go h.Start()

	n.mgr = NewManager(Options{
		RoomID:  testRoom,
		SelfID:  id,
		Sender:  endpoint{bus: b, id: id},
		Router:  h,
		Factory: n.factory,
		OnTrack: func(peerID string, tr RemoteTrack) { n.tracks <- peerID + "/" + tr.ID() },
	})
	n.mgr.Start()

	t.Cleanup(func() {
		n.mgr.Destroy()
		b.mu.Lock()
		delete(b.nodes, id)
		b.mu.Unlock()
		close(n.in)
	})
	return n
}

func (n *node) factory(peerID string, ev LinkEvents) (Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := &fakeLink{self: n.id, peer: peerID, ev: ev, attachErr: n.attachErr}
	n.links = append(n.links, l)
	return l, nil
}

func (n *node) linksTo(peerID string) []*fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*fakeLink
	for _, l := range n.links {
		if l.peer == peerID {
			out = append(out, l)
		}
	}
	return out
}

func (n *node) setAttachErr(err error) {
	n.mu.Lock()
	n.attachErr = err
	n.mu.Unlock()
}

func (n *node) inject(eventType string, payload any) {
	n.in <- protocol.MustMessage(eventType, testRoom, payload)
}

func (n *node) injectSignal(eventType, from string, sig Signal) {
	raw, _ := json.Marshal(sig)
	n.inject(eventType, protocol.SignalEnvelope{From: from, To: n.id, Signal: raw})
}

func (n *node) peer(id string) PeerInfo {
	for _, p := range n.mgr.Peers() {
		if p.ID == id {
			return p
		}
	}
	return PeerInfo{}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func users(ids ...string) protocol.UsersPayload {
	var p protocol.UsersPayload
	for _, id := range ids {
		p.Users = append(p.Users, protocol.UserInfo{ConnectionID: id, Nickname: "nick-" + id})
	}
	return p
}

func bothLinked(a, b *node) func() bool {
	return func() bool {
		return a.peer(b.id).State == StateLinked && b.peer(a.id).State == StateLinked
	}
}

// linkPair brings up a room where a was present first and b joined.
func linkPair(t *testing.T) (*bus, *node, *node) {
	t.Helper()
	bs := newBus()
	a := newNode(t, bs, "a")
	b := newNode(t, bs, "b")

	a.mgr.SetLocalStream(NewLocalStream("a-media", nil, nil))
	b.mgr.SetLocalStream(NewLocalStream("b-media", nil, nil))

	a.inject(protocol.TypeExistingUsers, users("a"))
	b.inject(protocol.TypeExistingUsers, users("a", "b"))
	eventually(t, "b to learn about a", func() bool { return len(b.mgr.Peers()) == 1 })

	a.inject(protocol.TypeUserJoined, protocol.UserJoinedPayload{ConnectionID: "b", Nickname: "nick-b"})
	eventually(t, "link between a and b", bothLinked(a, b))
	return bs, a, b
}

func TestNewcomerIsOffered(t *testing.T) {
	_, a, b := linkPair(t)

	if got := a.peer("b"); got.Role != RoleInitiator || got.Nickname != "nick-b" {
		t.Fatalf("a sees b as %+v", got)
	}
	if got := b.peer("a"); got.Role != RoleResponder {
		t.Fatalf("b sees a as %+v", got)
	}

	// Candidates gathered before the description was sent, or received
	// before the remote description was applied, land after it.
	wantA := []string{"attach", "offer", "accept-answer:answer-from-b", "candidate:cand-b"}
	wantB := []string{"attach", "accept-offer:offer-from-a", "candidate:cand-a"}
	eventually(t, "link operations", func() bool {
		la, lb := a.linksTo("b"), b.linksTo("a")
		return len(la) == 1 && len(lb) == 1 &&
			slices.Equal(la[0].Ops(), wantA) && slices.Equal(lb[0].Ops(), wantB)
	})

	select {
	case got := <-a.tracks:
		if got != "b/b-video" {
			t.Fatalf("track = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnTrack not called")
	}
	streams := a.mgr.Streams()
	if len(streams) != 1 || streams[0].PeerID != "b" || len(streams[0].Tracks) != 1 {
		t.Fatalf("streams = %+v", streams)
	}
}

func TestNoOfferWithoutLocalStream(t *testing.T) {
	bs := newBus()
	a := newNode(t, bs, "a")

	a.inject(protocol.TypeUserJoined, protocol.UserJoinedPayload{ConnectionID: "b", Nickname: "bob"})
	eventually(t, "roster entry", func() bool { return a.peer("b").Nickname == "bob" })

	if got := a.peer("b"); got.State != StateAbsent {
		t.Fatalf("peer = %+v", got)
	}
	if n := len(a.linksTo("b")); n != 0 {
		t.Fatalf("%d links created", n)
	}
}

func TestStaleSignalsIgnored(t *testing.T) {
	_, _, b := linkPair(t)
	eventually(t, "b candidates", func() bool { return len(b.linksTo("a")[0].Ops()) == 3 })

	b.injectSignal(protocol.TypeAnswer, "a", Signal{Session: "old", Type: SignalAnswer, SDP: "x"})
	b.injectSignal(protocol.TypeICECandidate, "a", Signal{Session: "old", Type: SignalCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "stale"}})
	b.injectSignal(protocol.TypeOffer, "z", Signal{Session: "s-z", Type: SignalOffer, SDP: "from-stranger"})

	// Events are handled in order; once the rename is visible the signals
	// above were processed.
	b.inject(protocol.TypeNicknameChanged, protocol.NicknameChangedPayload{
		ConnectionID: "a", OldNickname: "nick-a", NewNickname: "alice",
	})
	eventually(t, "rename", func() bool { return b.peer("a").Nickname == "alice" })

	if ops := b.linksTo("a")[0].Ops(); len(ops) != 3 {
		t.Fatalf("stale signals reached the link: %v", ops)
	}
	if n := len(b.linksTo("z")); n != 0 {
		t.Fatalf("link created for unknown peer")
	}
	if n := len(b.mgr.Peers()); n != 1 {
		t.Fatalf("peers = %+v", b.mgr.Peers())
	}
}

func TestUserLeftTearsDown(t *testing.T) {
	_, a, _ := linkPair(t)

	a.inject(protocol.TypeUserLeft, protocol.UserLeftPayload{ConnectionID: "b", Nickname: "nick-b"})
	eventually(t, "teardown", func() bool {
		return len(a.mgr.Peers()) == 0 && a.linksTo("b")[0].Closed()
	})
}

func TestLinkFailureAndReconnect(t *testing.T) {
	_, a, b := linkPair(t)

	a.linksTo("b")[0].ev.OnState(StateClosed)
	eventually(t, "failed link dropped", func() bool {
		p := a.peer("b")
		return p.ID == "b" && p.State == StateAbsent && a.linksTo("b")[0].Closed()
	})

	a.mgr.Reconnect("b")
	eventually(t, "relinked", func() bool {
		return len(a.linksTo("b")) == 2 && len(b.linksTo("a")) == 2 && bothLinked(a, b)()
	})
	eventually(t, "old responder link closed", b.linksTo("a")[0].Closed)
}

func TestMediaFailureIsContained(t *testing.T) {
	_, a, b := linkPair(t)

	b.setAttachErr(errors.New("camera busy"))
	a.mgr.Reconnect("b")

	eventually(t, "responder link dropped", func() bool {
		return len(b.linksTo("a")) == 2 && b.peer("a").State == StateAbsent
	})
	if got := a.peer("b"); got.State != StateNegotiating {
		t.Fatalf("initiator state = %v", got.State)
	}
	if n := len(b.mgr.Peers()); n != 1 {
		t.Fatalf("roster lost the peer: %+v", b.mgr.Peers())
	}
}

func TestGlare(t *testing.T) {
	bs := newBus()
	a := newNode(t, bs, "a")
	b := newNode(t, bs, "b")

	a.inject(protocol.TypeExistingUsers, users("b"))
	b.inject(protocol.TypeExistingUsers, users("a"))
	eventually(t, "rosters", func() bool { return len(a.mgr.Peers()) == 1 && len(b.mgr.Peers()) == 1 })

	bs.hold()
	a.mgr.SetLocalStream(NewLocalStream("a-media", nil, nil))
	b.mgr.SetLocalStream(NewLocalStream("b-media", nil, nil))
	eventually(t, "crossing offers", func() bool {
		return bs.queued(protocol.TypeOffer) == 2 && bs.queued(protocol.TypeICECandidate) == 2
	})
	bs.release()

	eventually(t, "glare resolved", bothLinked(a, b))
	if got := a.peer("b").Role; got != RoleInitiator {
		t.Fatalf("a role = %v", got)
	}
	if got := b.peer("a").Role; got != RoleResponder {
		t.Fatalf("b role = %v", got)
	}
	links := b.linksTo("a")
	if len(links) != 2 {
		t.Fatalf("b created %d links", len(links))
	}
	eventually(t, "b dropped its own offer", links[0].Closed)
	if n := len(a.linksTo("b")); n != 1 {
		t.Fatalf("a created %d links", n)
	}
}

func TestSetLocalStreamRenegotiates(t *testing.T) {
	_, a, b := linkPair(t)

	var stopped atomic.Int32
	first := NewLocalStream("cam", nil, func() { stopped.Add(1) })
	a.mgr.SetLocalStream(first)
	eventually(t, "first renegotiation", func() bool { return len(b.linksTo("a")) == 2 && bothLinked(a, b)() })

	a.mgr.SetLocalStream(NewLocalStream("screen", nil, nil))
	eventually(t, "second renegotiation", func() bool { return len(b.linksTo("a")) == 3 && bothLinked(a, b)() })

	if n := stopped.Load(); n != 1 {
		t.Fatalf("previous stream stopped %d times", n)
	}
	if got := a.peer("b").Role; got != RoleInitiator {
		t.Fatalf("role = %v", got)
	}
}

func TestDestroy(t *testing.T) {
	_, a, _ := linkPair(t)

	var stopped atomic.Int32
	a.mgr.SetLocalStream(NewLocalStream("cam", nil, func() { stopped.Add(1) }))
	eventually(t, "renegotiated", func() bool { return len(a.linksTo("b")) == 2 })

	a.mgr.Destroy()
	a.mgr.Destroy()

	for _, l := range a.linksTo("b") {
		eventually(t, "link closed", l.Closed)
	}
	if n := stopped.Load(); n != 1 {
		t.Fatalf("stream stopped %d times", n)
	}

	done := make(chan struct{})
	go func() {
		a.mgr.Reconnect("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reconnect blocked after Destroy")
	}
}
