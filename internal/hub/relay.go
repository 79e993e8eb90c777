package hub

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
)

// Relay forwards WebRTC signaling between members of a room. It keeps no
// state of its own and never looks inside the signal.
type Relay struct {
	rooms  *room.Registry
	logger zerolog.Logger
}

func NewRelay(rooms *room.Registry) *Relay {
	return &Relay{
		rooms:  rooms,
		logger: log.With().Str("component", "relay").Logger(),
	}
}

// Relay stamps env.From with the sender's identity and forwards it to env.To,
// or to every other member when env.To is empty. A target that is not in the
// room yields room.ErrTargetGone.
func (r *Relay) Relay(roomID, from, eventType string, env protocol.SignalEnvelope) error {
	if !protocol.IsSignal(eventType) {
		return fmt.Errorf("%w: %s is not a signaling event", errUnsupported, eventType)
	}
	env.From = from

	err := r.rooms.WithMember(roomID, from, func(_ room.Member, members []room.Member) error {
		msg, err := protocol.NewMessage(eventType, roomID, env)
		if err != nil {
			return err
		}

		if env.To == "" {
			deliver(others(members, from), msg)
			return nil
		}
		for _, m := range members {
			if m.ConnID == env.To {
				deliver([]room.Member{m}, msg)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", room.ErrTargetGone, env.To)
	})

	switch {
	case err == nil:
		metrics.SignalsRelayed.WithLabelValues(eventType).Inc()
	case errors.Is(err, room.ErrTargetGone):
		metrics.SignalsDropped.WithLabelValues("target_gone").Inc()
		r.logger.Debug().Str("room", roomID).Str("from", from).Str("to", env.To).Str("type", eventType).Msg("signal target gone")
	case errors.Is(err, room.ErrNotAMember):
		metrics.SignalsDropped.WithLabelValues("not_a_member").Inc()
	}
	return err
}
