package protocol

import (
	"encoding/json"
	"fmt"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server event types.
const (
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeChangeNickname = "change_nickname"
	TypeSendMessage    = "send_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
)

// Signaling event types travel in both directions.
const (
	TypeOffer        = "webrtc_offer"
	TypeAnswer       = "webrtc_answer"
	TypeICECandidate = "webrtc_ice_candidate"
)

// Server to client event types.
const (
	TypeConnected       = "connected"
	TypeMessageHistory  = "message_history"
	TypeNewMessage      = "new_message"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeExistingUsers   = "existing_users"
	TypeRoomUsers       = "room_users"
	TypeNicknameChanged = "nickname_changed"
	TypeNicknameTaken   = "nickname_taken"
	TypeUserTyping      = "user_typing"
	TypeError           = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeNotAMember      = "not_a_member"
	CodeRoomNotFound    = "room_not_found"
	CodePersistence     = "persistence_failure"
	CodeInvalidRequest  = "invalid_request"
	CodeAlreadyMember   = "already_member"
	CodeMessageTooLong  = "message_too_long"
	CodeEmptyMessage    = "empty_message"
	CodeInternal        = "internal"
	CodeUnsupportedType = "unsupported_type"
)

// IsSignal reports whether t is one of the relayed WebRTC signaling types.
func IsSignal(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// NewMessage creates a new Message with the given type and JSON encoded payload.
func NewMessage(t, roomID string, payload any) (*Message, error) {
	msg := &Message{Type: t, RoomID: roomID}
	if payload == nil {
		return msg, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// MustMessage is NewMessage for payloads that are known to encode.
func MustMessage(t, roomID string, payload any) *Message {
	msg, err := NewMessage(t, roomID, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// DecodePayload decodes the message payload into the provided struct.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}
