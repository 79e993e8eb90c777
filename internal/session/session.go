// Package session is the client side of one chat connection: it connects,
// joins a room and sends chat events. Incoming events are consumed through
// Handler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/signaling"
)

var (
	ErrNicknameTaken = errors.New("nickname taken")
	ErrNotJoined     = errors.New("not in a room")
)

// NicknameTakenError carries the server's suggested alternative.
type NicknameTakenError struct {
	Nickname   string
	Suggestion string
}

func (e *NicknameTakenError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("nickname %q is taken", e.Nickname)
	}
	return fmt.Sprintf("nickname %q is taken, try %q", e.Nickname, e.Suggestion)
}

func (e *NicknameTakenError) Unwrap() error { return ErrNicknameTaken }

// ServerError is an error event sent by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server: %s (%s)", e.Message, e.Code)
}

// Joined is what the server tells a new member.
type Joined struct {
	RoomID   string
	Nickname string
	History  []protocol.ChatMessage
	Others   []protocol.UserInfo
	Members  []protocol.UserInfo
}

type Session struct {
	cfg     *config.Config
	client  *signaling.Client
	handler *signaling.Handler
	connID  string

	mu       sync.Mutex
	roomID   string
	nickname string

	logger zerolog.Logger
}

// Open connects to the server and waits for the connected event.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	client := signaling.NewClient(cfg.WebSocketURLWithToken())
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	handler := signaling.NewHandler(client)
	connected := make(chan string, 1)
	unsubscribe := handler.On(func(msg *protocol.Message) {
		var p protocol.ConnectedPayload
		if msg.DecodePayload(&p) == nil {
			select {
			case connected <- p.ConnectionID:
			default:
			}
		}
	}, protocol.TypeConnected)
	defer unsubscribe()
	go handler.Start()

	s := &Session{cfg: cfg, client: client, handler: handler}
	select {
	case s.connID = <-connected:
	case <-handler.Done():
		return nil, fmt.Errorf("connect to server: %w", signaling.ErrClosed)
	case <-ctx.Done():
		client.Close()
		return nil, fmt.Errorf("connect to server: %w", ctx.Err())
	}

	s.logger = log.With().Str("component", "session").Str("conn", s.connID).Logger()
	s.handler.On(s.track, protocol.TypeNicknameChanged)
	return s, nil
}

func (s *Session) ConnectionID() string        { return s.connID }
func (s *Session) Handler() *signaling.Handler { return s.handler }
func (s *Session) Client() *signaling.Client   { return s.client }
func (s *Session) Lost() <-chan struct{}       { return s.handler.Done() }
func (s *Session) Config() *config.Config      { return s.cfg }

func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Join enters roomID and waits until the server confirmed membership. The
// server may replace the nickname, for example with an account name; the
// result carries the one actually used.
func (s *Session) Join(ctx context.Context, roomID, nickname string) (*Joined, error) {
	type outcome struct {
		joined *Joined
		err    error
	}

	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	res := &Joined{RoomID: roomID}
	unsubscribe := s.handler.On(func(msg *protocol.Message) {
		if msg.RoomID != "" && msg.RoomID != roomID {
			return
		}
		switch msg.Type {
		case protocol.TypeMessageHistory:
			var p protocol.MessageHistoryPayload
			if msg.DecodePayload(&p) == nil {
				res.History = p.Messages
			}
		case protocol.TypeExistingUsers:
			var p protocol.UsersPayload
			if msg.DecodePayload(&p) == nil {
				res.Others = p.Users
			}
		case protocol.TypeRoomUsers:
			var p protocol.UsersPayload
			if msg.DecodePayload(&p) != nil {
				return
			}
			for _, u := range p.Users {
				if u.ConnectionID == s.connID {
					res.Members, res.Nickname = p.Users, u.Nickname
					finish(outcome{joined: res})
					return
				}
			}
		case protocol.TypeNicknameTaken:
			var p protocol.NicknameTakenPayload
			msg.DecodePayload(&p)
			finish(outcome{err: &NicknameTakenError{Nickname: p.Nickname, Suggestion: p.Suggestion}})
		case protocol.TypeError:
			// Rejections of other events in this room do not answer the join.
			var p protocol.ErrorPayload
			if msg.DecodePayload(&p) != nil || p.Event != protocol.TypeJoinRoom {
				return
			}
			finish(outcome{err: &ServerError{Code: p.Code, Message: p.Error}})
		}
	}, protocol.TypeMessageHistory, protocol.TypeExistingUsers, protocol.TypeRoomUsers,
		protocol.TypeNicknameTaken, protocol.TypeError)
	defer unsubscribe()

	err := s.send(protocol.TypeJoinRoom, roomID, protocol.JoinRoomPayload{
		Nickname: nickname,
		Avatar:   s.cfg.Avatar,
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		s.mu.Lock()
		s.roomID, s.nickname = roomID, o.joined.Nickname
		s.mu.Unlock()
		s.logger.Info().Str("room", roomID).Str("nickname", o.joined.Nickname).Msg("joined")
		return o.joined, nil
	case <-s.handler.Done():
		return nil, signaling.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send posts a chat message with the configured presentation hints.
func (s *Session) Send(content string) error {
	roomID, nick, err := s.current()
	if err != nil {
		return err
	}
	return s.send(protocol.TypeSendMessage, roomID, protocol.SendMessagePayload{
		Nickname:   nick,
		Content:    content,
		FontFamily: s.cfg.FontFamily,
		TextColor:  s.cfg.TextColor,
		Avatar:     s.cfg.Avatar,
	})
}

// Rename asks for a new nickname. The outcome arrives as nickname_changed
// or nickname_taken.
func (s *Session) Rename(newNickname string) error {
	roomID, nick, err := s.current()
	if err != nil {
		return err
	}
	return s.send(protocol.TypeChangeNickname, roomID, protocol.ChangeNicknamePayload{
		OldNickname: nick,
		NewNickname: newNickname,
	})
}

func (s *Session) Typing(typing bool) error {
	roomID, nick, err := s.current()
	if err != nil {
		return err
	}
	t := protocol.TypeTypingStop
	if typing {
		t = protocol.TypeTypingStart
	}
	return s.send(t, roomID, protocol.TypingPayload{Nickname: nick})
}

// Leave exits the current room. Leaving twice is harmless.
func (s *Session) Leave() error {
	roomID, nick, err := s.current()
	if errors.Is(err, ErrNotJoined) {
		return nil
	}
	s.mu.Lock()
	s.roomID = ""
	s.mu.Unlock()
	return s.send(protocol.TypeLeaveRoom, roomID, protocol.LeaveRoomPayload{Nickname: nick})
}

// Close leaves the room and closes the connection.
func (s *Session) Close() {
	if err := s.Leave(); err != nil {
		s.logger.Debug().Err(err).Msg("leave on close")
	}
	s.client.Close()
}

func (s *Session) current() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == "" {
		return "", "", ErrNotJoined
	}
	return s.roomID, s.nickname, nil
}

func (s *Session) send(eventType, roomID string, payload any) error {
	msg, err := protocol.NewMessage(eventType, roomID, payload)
	if err != nil {
		return err
	}
	return s.client.Send(msg)
}

// track follows our own renames.
func (s *Session) track(msg *protocol.Message) {
	var p protocol.NicknameChangedPayload
	if msg.DecodePayload(&p) != nil || p.ConnectionID != s.connID {
		return
	}
	s.mu.Lock()
	if msg.RoomID == s.roomID {
		s.nickname = p.NewNickname
	}
	s.mu.Unlock()
}
