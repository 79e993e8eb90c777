package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

type chanSource chan *protocol.Message

func (c chanSource) Incoming() <-chan *protocol.Message { return c }

func TestHandlerRouting(t *testing.T) {
	src := make(chanSource, 8)
	h := NewHandler(src)

	var all, joined []string
	h.On(func(m *protocol.Message) { all = append(all, m.Type) })
	unsubscribe := h.On(func(m *protocol.Message) { joined = append(joined, m.Type) }, protocol.TypeUserJoined)

	src <- &protocol.Message{Type: protocol.TypeUserJoined}
	src <- &protocol.Message{Type: protocol.TypeNewMessage}

	go h.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Expect subscribes after the first two events may already be routed,
	// so wait on a later one.
	go func() {
		time.Sleep(20 * time.Millisecond)
		src <- &protocol.Message{Type: protocol.TypeRoomUsers}
	}()
	msg, err := h.Expect(ctx, protocol.TypeRoomUsers)
	if err != nil || msg.Type != protocol.TypeRoomUsers {
		t.Fatalf("Expect = %v, %v", msg, err)
	}

	unsubscribe()
	src <- &protocol.Message{Type: protocol.TypeUserJoined}
	close(src)
	<-h.Done()

	if len(all) != 4 {
		t.Fatalf("catch-all saw %v", all)
	}
	if len(joined) != 1 {
		t.Fatalf("filtered subscriber saw %v after unsubscribing", joined)
	}

	if _, err := h.Expect(context.Background(), protocol.TypeError); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expect after close = %v", err)
	}
}

// echoServer sends a connected event, then echoes every message back.
func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(protocol.MustMessage(protocol.TypeConnected, "", protocol.ConnectedPayload{ConnectionID: "c-1"}))
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			conn.WriteJSON(&msg)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)
	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h := NewHandler(c)
	connected := make(chan string, 1)
	h.On(func(m *protocol.Message) {
		var p protocol.ConnectedPayload
		m.DecodePayload(&p)
		connected <- p.ConnectionID
	}, protocol.TypeConnected)
	go h.Start()

	select {
	case id := <-connected:
		if id != "c-1" {
			t.Fatalf("connection id = %q", id)
		}
	case <-ctx.Done():
		t.Fatal("no connected event")
	}

	echoed := make(chan *protocol.Message, 1)
	h.On(func(m *protocol.Message) { echoed <- m }, protocol.TypeTypingStart)
	if err := c.Send(protocol.MustMessage(protocol.TypeTypingStart, "demo", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-echoed:
		if msg.RoomID != "demo" {
			t.Fatalf("echo = %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no echo")
	}

	c.Close()
	c.Close()
	select {
	case <-h.Done():
	case <-ctx.Done():
		t.Fatal("handler did not stop after Close")
	}
	if err := c.Send(protocol.MustMessage(protocol.TypeTypingStop, "demo", nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close = %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected connect to fail")
	}
}
