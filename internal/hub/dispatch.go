package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/Medal-OF-Owner/Chatlet/internal/nickname"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errUnsupported    = errors.New("unsupported event type")
)

const guestAttempts = 5

// dispatch handles one event from c on the caller's goroutine. Room work
// only locks the rooms it touches.
func (h *Hub) dispatch(c *Client, msg *protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case protocol.TypeJoinRoom:
		err = h.handleJoin(ctx, c, msg)
	case protocol.TypeLeaveRoom:
		h.rooms.Leave(ctx, msg.RoomID, c.ID)
	case protocol.TypeChangeNickname:
		err = h.handleRename(ctx, c, msg)
	case protocol.TypeSendMessage:
		err = h.handleSend(ctx, c, msg)
	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		err = h.presence.Typing(msg.RoomID, c.ID, msg.Type == protocol.TypeTypingStart)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		err = h.handleSignal(c, msg)
	default:
		err = fmt.Errorf("%w: %q", errUnsupported, msg.Type)
	}

	if err == nil {
		return
	}
	if errors.Is(err, room.ErrTargetGone) {
		return
	}

	code := errorCode(err)
	ev := c.logger.Debug()
	if code == protocol.CodeInternal || code == protocol.CodePersistence {
		ev = c.logger.Error()
	}
	ev.Err(err).Str("type", msg.Type).Str("room", msg.RoomID).Str("code", code).Msg("event rejected")

	c.Deliver(protocol.MustMessage(protocol.TypeError, msg.RoomID, protocol.ErrorPayload{
		Code:  code,
		Error: err.Error(),
		Event: msg.Type,
	}))
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, msg *protocol.Message) error {
	var p protocol.JoinRoomPayload
	if len(msg.Payload) > 0 {
		if err := msg.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", errInvalidRequest, err)
		}
	}

	nick := nickname.Normalize(p.Nickname)
	if c.account != "" {
		nick = c.account
	}
	if nick == "" {
		nick = h.guestNickname(ctx)
	}

	_, err := h.rooms.Join(ctx, room.JoinRequest{
		RoomID:   msg.RoomID,
		ConnID:   c.ID,
		Nickname: nick,
		Avatar:   p.Avatar,
		Sink:     c,
	})
	if errors.Is(err, room.ErrNicknameTaken) {
		h.nicknameTaken(ctx, c, msg.RoomID, nick)
		return nil
	}
	return err
}

func (h *Hub) handleRename(ctx context.Context, c *Client, msg *protocol.Message) error {
	var p protocol.ChangeNicknamePayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}

	_, err := h.rooms.Rename(ctx, msg.RoomID, c.ID, p.NewNickname)
	if errors.Is(err, room.ErrNicknameTaken) {
		h.nicknameTaken(ctx, c, msg.RoomID, nickname.Normalize(p.NewNickname))
		return nil
	}
	return err
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg *protocol.Message) error {
	var p protocol.SendMessagePayload
	if err := msg.DecodePayload(&p); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	_, err := h.fanout.Send(ctx, msg.RoomID, c.ID, p)
	return err
}

func (h *Hub) handleSignal(c *Client, msg *protocol.Message) error {
	var env protocol.SignalEnvelope
	if err := msg.DecodePayload(&env); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return h.relay.Relay(msg.RoomID, c.ID, msg.Type, env)
}

func (h *Hub) nicknameTaken(ctx context.Context, c *Client, roomID, nick string) {
	c.Deliver(protocol.MustMessage(protocol.TypeNicknameTaken, roomID, protocol.NicknameTakenPayload{
		Nickname:   nick,
		Suggestion: nickname.Suggest(ctx, h.nicknames, nick),
	}))
}

// guestNickname picks a free adjective-animal name. The final candidate is
// returned even if taken; the join then reports the collision.
func (h *Hub) guestNickname(ctx context.Context) string {
	var nick string
	for i := 0; i < guestAttempts; i++ {
		nick = nickname.Guest()
		if ok, err := h.nicknames.IsAvailable(ctx, nick); err == nil && ok {
			break
		}
	}
	return nick
}

// errorCode maps a handler error to the code carried in the error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotAMember):
		return protocol.CodeNotAMember
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, room.ErrPersistence):
		return protocol.CodePersistence
	case errors.Is(err, room.ErrAlreadyMember):
		return protocol.CodeAlreadyMember
	case errors.Is(err, ErrMessageTooLong):
		return protocol.CodeMessageTooLong
	case errors.Is(err, ErrEmptyMessage):
		return protocol.CodeEmptyMessage
	case errors.Is(err, errUnsupported):
		return protocol.CodeUnsupportedType
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, room.ErrInvalidRoom),
		errors.Is(err, nickname.ErrInvalid):
		return protocol.CodeInvalidRequest
	default:
		return protocol.CodeInternal
	}
}
