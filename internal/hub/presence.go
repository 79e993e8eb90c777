package hub

import (
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
)

// Presence turns membership changes into room notifications. The registry
// calls it with the room locked, so these events are ordered with the
// room's chat messages.
type Presence struct {
	rooms *room.Registry
}

func (p *Presence) MemberJoined(res *room.JoinResult) {
	self := res.Member

	history := res.History
	if history == nil {
		history = []protocol.ChatMessage{}
	}
	deliver([]room.Member{self}, protocol.MustMessage(protocol.TypeMessageHistory, res.RoomID,
		protocol.MessageHistoryPayload{Messages: history}))
	deliver([]room.Member{self}, protocol.MustMessage(protocol.TypeExistingUsers, res.RoomID,
		protocol.UsersPayload{Users: userInfos(res.Others)}))

	deliver(res.Others, protocol.MustMessage(protocol.TypeUserJoined, res.RoomID, protocol.UserJoinedPayload{
		Nickname:     self.Nickname,
		ConnectionID: self.ConnID,
		Avatar:       self.Avatar,
		Timestamp:    self.JoinedAt.UTC(),
	}))

	all := make([]room.Member, 0, len(res.Others)+1)
	all = append(all, res.Others...)
	all = append(all, self)
	deliver(all, roomUsers(res.RoomID, all))
}

func (p *Presence) MemberLeft(dep *room.Departure) {
	if len(dep.Remaining) == 0 {
		return
	}
	deliver(dep.Remaining, protocol.MustMessage(protocol.TypeUserLeft, dep.RoomID, protocol.UserLeftPayload{
		Nickname:     dep.Member.Nickname,
		ConnectionID: dep.Member.ConnID,
		Timestamp:    dep.At.UTC(),
	}))
	deliver(dep.Remaining, roomUsers(dep.RoomID, dep.Remaining))
}

func (p *Presence) MemberRenamed(rn *room.Rename) {
	deliver(rn.Members, protocol.MustMessage(protocol.TypeNicknameChanged, rn.RoomID, protocol.NicknameChangedPayload{
		OldNickname:  rn.OldNickname,
		NewNickname:  rn.NewNickname,
		ConnectionID: rn.ConnID,
	}))
	deliver(rn.Members, roomUsers(rn.RoomID, rn.Members))
}

// Typing tells the other members that connID started or stopped typing.
func (p *Presence) Typing(roomID, connID string, isTyping bool) error {
	return p.rooms.WithMember(roomID, connID, func(self room.Member, members []room.Member) error {
		msg := protocol.MustMessage(protocol.TypeUserTyping, roomID, protocol.UserTypingPayload{
			Nickname:     self.Nickname,
			ConnectionID: self.ConnID,
			IsTyping:     isTyping,
		})
		deliver(others(members, connID), msg)
		return nil
	})
}

func roomUsers(roomID string, members []room.Member) *protocol.Message {
	return protocol.MustMessage(protocol.TypeRoomUsers, roomID, protocol.UsersPayload{Users: userInfos(members)})
}

func userInfos(members []room.Member) []protocol.UserInfo {
	users := make([]protocol.UserInfo, 0, len(members))
	for _, m := range members {
		users = append(users, m.Info())
	}
	return users
}

func others(members []room.Member, connID string) []room.Member {
	out := make([]room.Member, 0, len(members))
	for _, m := range members {
		if m.ConnID != connID {
			out = append(out, m)
		}
	}
	return out
}
