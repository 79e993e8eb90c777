package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
)

// DefaultMaxMessageLength bounds message content, in runes.
const DefaultMaxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

// Appender is the write side of the message log.
type Appender interface {
	Append(ctx context.Context, msg *protocol.ChatMessage) error
}

// Fanout persists chat messages and broadcasts them to the room.
type Fanout struct {
	rooms     *room.Registry
	log       Appender
	maxLength int
	now       func() time.Time
	logger    zerolog.Logger
}

func NewFanout(rooms *room.Registry, appender Appender, maxLength int, now func() time.Time) *Fanout {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if now == nil {
		now = time.Now
	}
	return &Fanout{
		rooms:     rooms,
		log:       appender,
		maxLength: maxLength,
		now:       now,
		logger:    log.With().Str("component", "fanout").Logger(),
	}
}

// Send stores the message and delivers new_message to every member of the
// room, the sender included. The sender's nickname comes from its
// membership, never from the payload. Nothing is broadcast unless the
// append succeeded.
func (f *Fanout) Send(ctx context.Context, roomID, connID string, p protocol.SendMessagePayload) (*protocol.ChatMessage, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(p.Content) > f.maxLength {
		return nil, fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, f.maxLength)
	}

	var sent *protocol.ChatMessage
	err := f.rooms.WithMember(roomID, connID, func(self room.Member, members []room.Member) error {
		msg := &protocol.ChatMessage{
			ID:         ulid.Make().String(),
			RoomID:     roomID,
			Nickname:   self.Nickname,
			Content:    p.Content,
			FontFamily: orDefault(p.FontFamily, protocol.DefaultFontFamily),
			TextColor:  orDefault(p.TextColor, protocol.DefaultTextColor),
			Avatar:     orDefault(p.Avatar, self.Avatar),
			CreatedAt:  f.now().UTC(),
		}

		if err := f.log.Append(ctx, msg); err != nil {
			metrics.PersistenceFailures.Inc()
			f.logger.Error().Err(err).Str("room", roomID).Str("conn", connID).Msg("append failed, message not broadcast")
			return fmt.Errorf("%w: %w", room.ErrPersistence, err)
		}

		event, err := protocol.NewMessage(protocol.TypeNewMessage, roomID, msg)
		if err != nil {
			return err
		}
		deliver(members, event)

		metrics.MessagesSent.Inc()
		sent = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// deliver enqueues msg on every member's sink.
func deliver(members []room.Member, msg *protocol.Message) {
	for _, m := range members {
		if m.Sink != nil {
			m.Sink.Deliver(msg)
		}
	}
}
