package protocol

import (
	"encoding/json"
	"time"
)

// Default presentation hints applied when a sender leaves them empty.
const (
	DefaultFontFamily = "sans-serif"
	DefaultTextColor  = "#ffffff"
)

// ChatMessage is the persisted, immutable form of a room message.
type ChatMessage struct {
	ID         string    `json:"id" msgpack:"id"`
	RoomID     string    `json:"roomId" msgpack:"room_id"`
	Nickname   string    `json:"nickname" msgpack:"nickname"`
	Content    string    `json:"content" msgpack:"content"`
	FontFamily string    `json:"fontFamily" msgpack:"font_family"`
	TextColor  string    `json:"textColor" msgpack:"text_color"`
	Avatar     string    `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
	CreatedAt  time.Time `json:"createdAt" msgpack:"created_at"`
}

// UserInfo describes one room member on the wire.
type UserInfo struct {
	Nickname     string `json:"nickname"`
	ConnectionID string `json:"connectionId"`
	Avatar       string `json:"avatar,omitempty"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type JoinRoomPayload struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

type LeaveRoomPayload struct {
	Nickname string `json:"nickname,omitempty"`
}

type ChangeNicknamePayload struct {
	OldNickname string `json:"oldNickname,omitempty"`
	NewNickname string `json:"newNickname"`
}

type SendMessagePayload struct {
	Nickname   string `json:"nickname,omitempty"`
	Content    string `json:"content"`
	FontFamily string `json:"fontFamily,omitempty"`
	TextColor  string `json:"textColor,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

type TypingPayload struct {
	Nickname string `json:"nickname,omitempty"`
}

// SignalEnvelope carries an opaque WebRTC signal between two connections.
// The server overwrites From with the sending connection's identity.
type SignalEnvelope struct {
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

type MessageHistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
}

type UserJoinedPayload struct {
	Nickname     string    `json:"nickname"`
	ConnectionID string    `json:"connectionId"`
	Avatar       string    `json:"avatar,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type UserLeftPayload struct {
	Nickname     string    `json:"nickname"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type UsersPayload struct {
	Users []UserInfo `json:"users"`
}

type NicknameChangedPayload struct {
	OldNickname  string `json:"oldNickname"`
	NewNickname  string `json:"newNickname"`
	ConnectionID string `json:"connectionId"`
}

type NicknameTakenPayload struct {
	Nickname   string `json:"nickname"`
	Suggestion string `json:"suggestion,omitempty"`
}

type UserTypingPayload struct {
	Nickname     string `json:"nickname"`
	ConnectionID string `json:"connectionId"`
	IsTyping     bool   `json:"isTyping"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`

	// Event is the type of the rejected client event.
	Event string `json:"event,omitempty"`
}
