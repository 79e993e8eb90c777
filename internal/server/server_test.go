package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Medal-OF-Owner/Chatlet/internal/hub"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/store"
)

func newTestServer(t *testing.T, accounts hub.Accounts) (*httptest.Server, *hub.Hub) {
	t.Helper()

	st := store.NewMemory(0)
	h := hub.New(hub.Options{Log: st, Accounts: accounts})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(NewRouter(Deps{Hub: h, Store: st, Logger: zerolog.Nop()}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, h
}

func getJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ, roomID string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(protocol.MustMessage(typ, roomID, payload)); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// expect reads until a message of the given type arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return &msg
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var resp HealthResponse
	if code := getJSON(t, http.MethodGet, srv.URL+"/health", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Status != "healthy" || resp.Store != "memory" {
		t.Fatalf("health = %+v", resp)
	}

	if code := getJSON(t, http.MethodGet, srv.URL+"/metrics", nil); code != http.StatusOK {
		t.Fatalf("metrics status = %d", code)
	}
}

func TestRoomRecords(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing", http.MethodGet, "/api/rooms/demo", http.StatusNotFound},
		{"create", http.MethodPut, "/api/rooms/Demo", http.StatusOK},
		{"fetch", http.MethodGet, "/api/rooms/demo", http.StatusOK},
		{"invalid", http.MethodPut, "/api/rooms/-nope", http.StatusBadRequest},
		{"members of missing", http.MethodGet, "/api/rooms/other/members", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/rooms/demo/messages?limit=zero", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := getJSON(t, tt.method, srv.URL+tt.path, nil); code != tt.want {
				t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, code, tt.want)
			}
		})
	}
}

func TestUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, hub.StaticAccounts{"t-1": "Alice"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with an unknown token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}

	conn := dial(t, srv, "?token=t-1")
	expect(t, conn, protocol.TypeConnected)
	send(t, conn, protocol.TypeJoinRoom, "r1", protocol.JoinRoomPayload{Nickname: "ignored"})
	users := expect(t, conn, protocol.TypeRoomUsers)

	var p protocol.UsersPayload
	users.DecodePayload(&p)
	if len(p.Users) != 1 || p.Users[0].Nickname != "Alice" {
		t.Fatalf("room_users = %+v", p.Users)
	}
}

// Two members join a room, chat, negotiate a link through the relay, and
// one of them drops.
func TestDemoScenario(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	var rec store.Room
	if code := getJSON(t, http.MethodPut, srv.URL+"/api/rooms/demo", &rec); code != http.StatusOK {
		t.Fatalf("create room = %d", code)
	}

	alice := dial(t, srv, "")
	var aliceID protocol.ConnectedPayload
	expect(t, alice, protocol.TypeConnected).DecodePayload(&aliceID)
	send(t, alice, protocol.TypeJoinRoom, rec.ID, protocol.JoinRoomPayload{Nickname: "alice"})
	expect(t, alice, protocol.TypeRoomUsers)

	send(t, alice, protocol.TypeSendMessage, rec.ID, protocol.SendMessagePayload{Content: "hello from alice"})
	expect(t, alice, protocol.TypeNewMessage)

	bob := dial(t, srv, "")
	var bobID protocol.ConnectedPayload
	expect(t, bob, protocol.TypeConnected).DecodePayload(&bobID)

	// A taken nickname is refused with a suggestion.
	send(t, bob, protocol.TypeJoinRoom, rec.ID, protocol.JoinRoomPayload{Nickname: "alice"})
	var taken protocol.NicknameTakenPayload
	expect(t, bob, protocol.TypeNicknameTaken).DecodePayload(&taken)
	if taken.Suggestion == "" {
		t.Fatal("nickname_taken carried no suggestion")
	}

	send(t, bob, protocol.TypeJoinRoom, rec.ID, protocol.JoinRoomPayload{Nickname: "bob"})
	var history protocol.MessageHistoryPayload
	expect(t, bob, protocol.TypeMessageHistory).DecodePayload(&history)
	if len(history.Messages) != 1 || history.Messages[0].Content != "hello from alice" {
		t.Fatalf("history = %+v", history.Messages)
	}
	var existing protocol.UsersPayload
	expect(t, bob, protocol.TypeExistingUsers).DecodePayload(&existing)
	if len(existing.Users) != 1 || existing.Users[0].ConnectionID != aliceID.ConnectionID {
		t.Fatalf("existing_users = %+v", existing.Users)
	}

	var joined protocol.UserJoinedPayload
	expect(t, alice, protocol.TypeUserJoined).DecodePayload(&joined)
	if joined.ConnectionID != bobID.ConnectionID {
		t.Fatalf("user_joined = %+v", joined)
	}

	// alice was there first, so she offers.
	send(t, alice, protocol.TypeOffer, rec.ID, protocol.SignalEnvelope{
		To:     bobID.ConnectionID,
		Signal: json.RawMessage(`{"session":"s","type":"offer","sdp":"v=0"}`),
	})
	var offer protocol.SignalEnvelope
	expect(t, bob, protocol.TypeOffer).DecodePayload(&offer)
	if offer.From != aliceID.ConnectionID {
		t.Fatalf("offer from = %q", offer.From)
	}

	send(t, bob, protocol.TypeSendMessage, rec.ID, protocol.SendMessagePayload{Nickname: "mallory", Content: "hi alice"})
	var msg protocol.ChatMessage
	expect(t, alice, protocol.TypeNewMessage).DecodePayload(&msg)
	if msg.Nickname != "bob" || msg.Content != "hi alice" {
		t.Fatalf("new_message = %+v", msg)
	}

	var members MembersResponse
	getJSON(t, http.MethodGet, srv.URL+"/api/rooms/demo/members", &members)
	if len(members.Members) != 2 {
		t.Fatalf("members = %+v", members)
	}

	bob.Close()
	var left protocol.UserLeftPayload
	expect(t, alice, protocol.TypeUserLeft).DecodePayload(&left)
	if left.Nickname != "bob" || left.ConnectionID != bobID.ConnectionID {
		t.Fatalf("user_left = %+v", left)
	}

	var msgs protocol.MessageHistoryPayload
	getJSON(t, http.MethodGet, srv.URL+"/api/rooms/demo/messages?limit=1", &msgs)
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hi alice" {
		t.Fatalf("messages = %+v", msgs.Messages)
	}
}
