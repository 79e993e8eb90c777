// Package room tracks which connections are members of which rooms.
//
// Each room is its own lock domain: mutations and fan-out on one room are
// serialized, while different rooms proceed independently. The registry
// map lock is only held to look up, insert or remove a room entry.
package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/nickname"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// DefaultHistoryLimit is the number of messages handed to a joiner.
const DefaultHistoryLimit = 50

// Sink receives events for one member. Deliver must not block.
type Sink interface {
	Deliver(msg *protocol.Message) bool
}

// HistoryReader is the read side of the message log.
type HistoryReader interface {
	Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error)
}

// Member is one connection's presence in a room.
type Member struct {
	ConnID   string
	Nickname string
	Avatar   string
	JoinedAt time.Time
	Sink     Sink
}

// Info converts a member to its wire form.
func (m Member) Info() protocol.UserInfo {
	return protocol.UserInfo{Nickname: m.Nickname, ConnectionID: m.ConnID, Avatar: m.Avatar}
}

type JoinRequest struct {
	RoomID   string
	ConnID   string
	Nickname string
	Avatar   string
	Sink     Sink
}

type JoinResult struct {
	RoomID  string
	Member  Member
	Others  []Member
	History []protocol.ChatMessage
	Created bool
}

type Departure struct {
	RoomID    string
	Member    Member
	Remaining []Member
	At        time.Time
}

type Rename struct {
	RoomID      string
	ConnID      string
	OldNickname string
	NewNickname string
	Members     []Member
}

// Changed reports whether the rename actually changed the nickname.
func (r *Rename) Changed() bool {
	return r.OldNickname != r.NewNickname
}

// Summary is a point-in-time view of one room.
type Summary struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Observer is told about every membership change while the room is still
// locked, so its notifications are ordered with respect to fan-out.
// Implementations must not call back into the Registry.
type Observer interface {
	MemberJoined(res *JoinResult)
	MemberLeft(dep *Departure)
	MemberRenamed(rn *Rename)
}

type nopObserver struct{}

func (nopObserver) MemberJoined(*JoinResult) {}
func (nopObserver) MemberLeft(*Departure)    {}
func (nopObserver) MemberRenamed(*Rename)    {}

type roomState struct {
	mu      sync.Mutex
	id      string
	members map[string]*Member
	order   []string
	dead    bool
}

func (rs *roomState) snapshot() []Member {
	out := make([]Member, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, *rs.members[id])
	}
	return out
}

func (rs *roomState) snapshotExcept(connID string) []Member {
	out := make([]Member, 0, len(rs.order))
	for _, id := range rs.order {
		if id != connID {
			out = append(out, *rs.members[id])
		}
	}
	return out
}

func (rs *roomState) remove(connID string) {
	delete(rs.members, connID)
	for i, id := range rs.order {
		if id == connID {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			return
		}
	}
}

// Registry maps room identifiers to their current members.
type Registry struct {
	nicknames nickname.Registry
	history   HistoryReader
	limit     int
	observer  Observer
	now       func() time.Time
	logger    zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	idxMu sync.Mutex
	index map[string]map[string]string // connID -> roomID -> nickname
}

type Option func(*Registry)

// WithHistory makes Join return up to limit recent messages from h.
func WithHistory(h HistoryReader, limit int) Option {
	return func(r *Registry) {
		r.history = h
		if limit > 0 {
			r.limit = limit
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(nicknames nickname.Registry, opts ...Option) *Registry {
	r := &Registry{
		nicknames: nicknames,
		limit:     DefaultHistoryLimit,
		observer:  nopObserver{},
		now:       time.Now,
		logger:    log.With().Str("component", "room").Logger(),
		rooms:     make(map[string]*roomState),
		index:     make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock returns the room locked. A room deleted while we waited for its
// lock is dead and the lookup is retried.
func (r *Registry) lock(roomID string, create bool) (*roomState, bool) {
	for {
		created := false

		r.mu.Lock()
		rs, ok := r.rooms[roomID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil, false
			}
			rs = &roomState{id: roomID, members: make(map[string]*Member)}
			r.rooms[roomID] = rs
			created = true
			metrics.RoomsActive.Inc()
		}
		r.mu.Unlock()

		rs.mu.Lock()
		if rs.dead {
			rs.mu.Unlock()
			continue
		}
		return rs, created
	}
}

// unlock releases the room, discarding it first if it has no members.
func (r *Registry) unlock(rs *roomState) {
	if len(rs.members) == 0 && !rs.dead {
		rs.dead = true
		r.mu.Lock()
		if r.rooms[rs.id] == rs {
			delete(r.rooms, rs.id)
		}
		r.mu.Unlock()
		metrics.RoomsActive.Dec()
		r.logger.Debug().Str("room", rs.id).Msg("room discarded")
	}
	rs.mu.Unlock()
}

// Join adds a connection to a room under a nickname, creating the room if
// needed. A taken nickname leaves every structure untouched.
func (r *Registry) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.RoomID == "" {
		return nil, opError("join", req.RoomID, ErrInvalidRoom)
	}
	nick := nickname.Normalize(req.Nickname)
	if err := nickname.Validate(nick); err != nil {
		return nil, opError("join", req.RoomID, err)
	}

	rs, created := r.lock(req.RoomID, true)
	defer r.unlock(rs)

	if _, ok := rs.members[req.ConnID]; ok {
		return nil, opError("join", req.RoomID, ErrAlreadyMember)
	}

	ok, err := r.nicknames.Reserve(ctx, nick)
	if err != nil {
		return nil, &OpError{Op: "join", Room: req.RoomID, Err: err, Details: "nickname registry"}
	}
	if !ok {
		metrics.NicknameCollisions.Inc()
		return nil, opError("join", req.RoomID, ErrNicknameTaken)
	}

	var history []protocol.ChatMessage
	if r.history != nil {
		history, err = r.history.Recent(ctx, req.RoomID, r.limit)
		if err != nil {
			r.logger.Warn().Err(err).Str("room", req.RoomID).Msg("history unavailable, joining without it")
			history = nil
		}
	}

	m := &Member{
		ConnID:   req.ConnID,
		Nickname: nick,
		Avatar:   req.Avatar,
		JoinedAt: r.now(),
		Sink:     req.Sink,
	}
	rs.members[m.ConnID] = m
	rs.order = append(rs.order, m.ConnID)
	r.indexSet(m.ConnID, rs.id, nick)
	metrics.MembersActive.Inc()

	res := &JoinResult{
		RoomID:  rs.id,
		Member:  *m,
		Others:  rs.snapshotExcept(m.ConnID),
		History: history,
		Created: created,
	}
	r.observer.MemberJoined(res)

	r.logger.Info().Str("room", rs.id).Str("conn", m.ConnID).Str("nickname", nick).Int("members", len(rs.members)).Msg("member joined")
	return res, nil
}

// Leave removes a connection from a room. It reports false, and emits
// nothing, when the connection was not a member.
func (r *Registry) Leave(ctx context.Context, roomID, connID string) (*Departure, bool) {
	rs, _ := r.lock(roomID, false)
	if rs == nil {
		return nil, false
	}
	defer r.unlock(rs)

	m, ok := rs.members[connID]
	if !ok {
		return nil, false
	}

	rs.remove(connID)
	r.indexDelete(connID, roomID)
	metrics.MembersActive.Dec()
	if err := r.nicknames.Release(ctx, m.Nickname); err != nil {
		r.logger.Warn().Err(err).Str("nickname", m.Nickname).Msg("nickname release failed")
	}

	dep := &Departure{
		RoomID:    roomID,
		Member:    *m,
		Remaining: rs.snapshot(),
		At:        r.now(),
	}
	r.observer.MemberLeft(dep)

	r.logger.Info().Str("room", roomID).Str("conn", connID).Str("nickname", m.Nickname).Int("members", len(rs.members)).Msg("member left")
	return dep, true
}

// Rename moves a member to a new nickname. Renaming to the current
// nickname succeeds without notifying anyone.
func (r *Registry) Rename(ctx context.Context, roomID, connID, newNickname string) (*Rename, error) {
	nick := nickname.Normalize(newNickname)
	if err := nickname.Validate(nick); err != nil {
		return nil, opError("rename", roomID, err)
	}

	rs, _ := r.lock(roomID, false)
	if rs == nil {
		return nil, opError("rename", roomID, ErrNotAMember)
	}
	defer r.unlock(rs)

	m, ok := rs.members[connID]
	if !ok {
		return nil, opError("rename", roomID, ErrNotAMember)
	}
	if m.Nickname == nick {
		return &Rename{RoomID: roomID, ConnID: connID, OldNickname: nick, NewNickname: nick}, nil
	}

	reserved, err := r.nicknames.Reserve(ctx, nick)
	if err != nil {
		return nil, &OpError{Op: "rename", Room: roomID, Err: err, Details: "nickname registry"}
	}
	if !reserved {
		metrics.NicknameCollisions.Inc()
		return nil, opError("rename", roomID, ErrNicknameTaken)
	}

	old := m.Nickname
	if err := r.nicknames.Release(ctx, old); err != nil {
		r.logger.Warn().Err(err).Str("nickname", old).Msg("nickname release failed")
	}
	m.Nickname = nick
	r.indexSet(connID, roomID, nick)

	rn := &Rename{
		RoomID:      roomID,
		ConnID:      connID,
		OldNickname: old,
		NewNickname: nick,
		Members:     rs.snapshot(),
	}
	r.observer.MemberRenamed(rn)
	return rn, nil
}

// Disconnect leaves every room the connection belongs to.
func (r *Registry) Disconnect(ctx context.Context, connID string) []*Departure {
	rooms := r.RoomsOf(connID)

	var deps []*Departure
	for _, roomID := range rooms {
		if dep, ok := r.Leave(ctx, roomID, connID); ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// WithMember runs fn while the room is locked, provided connID is a member.
// fn receives the caller's own record and all members in join order.
func (r *Registry) WithMember(roomID, connID string, fn func(self Member, members []Member) error) error {
	rs, _ := r.lock(roomID, false)
	if rs == nil {
		return opError("lookup", roomID, ErrNotAMember)
	}
	defer r.unlock(rs)

	m, ok := rs.members[connID]
	if !ok {
		return opError("lookup", roomID, ErrNotAMember)
	}
	return fn(*m, rs.snapshot())
}

// Members returns the members of a room in join order.
func (r *Registry) Members(roomID string) ([]Member, error) {
	rs, _ := r.lock(roomID, false)
	if rs == nil {
		return nil, opError("members", roomID, ErrRoomNotFound)
	}
	defer r.unlock(rs)
	return rs.snapshot(), nil
}

// Rooms lists every live room, sorted by identifier.
func (r *Registry) Rooms() []Summary {
	r.mu.Lock()
	states := make([]*roomState, 0, len(r.rooms))
	for _, rs := range r.rooms {
		states = append(states, rs)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(states))
	for _, rs := range states {
		rs.mu.Lock()
		if !rs.dead {
			out = append(out, Summary{ID: rs.id, Members: len(rs.members)})
		}
		rs.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomsOf returns the rooms a connection is currently in, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	rooms := make([]string, 0, len(r.index[connID]))
	for roomID := range r.index[connID] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

func (r *Registry) indexSet(connID, roomID, nick string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	rooms, ok := r.index[connID]
	if !ok {
		rooms = make(map[string]string)
		r.index[connID] = rooms
	}
	rooms[roomID] = nick
}

func (r *Registry) indexDelete(connID, roomID string) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	rooms := r.index[connID]
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(r.index, connID)
	}
}
