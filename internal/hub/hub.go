// Package hub is the server side of a chat connection: it owns the table
// of live websocket clients and routes their events to the room registry,
// the message fan-out, presence notifications and the signaling relay.
package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/nickname"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/room"
	"github.com/Medal-OF-Owner/Chatlet/internal/store"
)

const (
	DefaultSendBuffer = 256
	defaultOpTimeout  = 5 * time.Second
)

// Options configures a Hub. Zero values select in-memory collaborators
// and defaults.
type Options struct {
	Log              store.MessageLog
	Nicknames        nickname.Registry
	Accounts         Accounts
	HistoryLimit     int
	MaxMessageLength int
	SendBuffer       int
	Now              func() time.Time
}

// Hub is the central brain of the chat server.
type Hub struct {
	// Register and Unregister feed the connection table owned by Run.
	Register   chan *Client
	Unregister chan *Client

	rooms     *room.Registry
	nicknames nickname.Registry
	accounts  Accounts
	fanout    *Fanout
	presence  *Presence
	relay     *Relay

	clients    map[string]*Client
	done       chan struct{}
	sendBuffer int
	opTimeout  time.Duration
	logger     zerolog.Logger
}

// New wires the registries and broadcasters together.
func New(opts Options) *Hub {
	if opts.Log == nil {
		opts.Log = store.NewMemory(0)
	}
	if opts.Nicknames == nil {
		opts.Nicknames = nickname.NewMemory()
	}
	if opts.Accounts == nil {
		opts.Accounts = GuestAccounts{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	presence := &Presence{}
	rooms := room.NewRegistry(opts.Nicknames,
		room.WithHistory(opts.Log, opts.HistoryLimit),
		room.WithObserver(presence),
		room.WithClock(opts.Now),
	)
	presence.rooms = rooms

	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      rooms,
		nicknames:  opts.Nicknames,
		accounts:   opts.Accounts,
		fanout:     NewFanout(rooms, opts.Log, opts.MaxMessageLength, opts.Now),
		presence:   presence,
		relay:      NewRelay(rooms),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
		sendBuffer: opts.SendBuffer,
		opTimeout:  defaultOpTimeout,
		logger:     log.With().Str("component", "hub").Logger(),
	}
}

// Rooms exposes the room registry for read-only HTTP views.
func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

// Authenticate resolves a session token to a display name. An empty token
// is a guest session.
func (h *Hub) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	return h.accounts.DisplayName(ctx, token)
}

// Attach registers a freshly upgraded connection and starts its pumps.
// The connected event is queued before any of the client's own events can
// be read, so it is always the first thing the client receives.
func (h *Hub) Attach(conn *websocket.Conn, account string) *Client {
	c := newClient(h, conn, account)
	c.Deliver(protocol.MustMessage(protocol.TypeConnected, "", protocol.ConnectedPayload{ConnectionID: c.ID}))

	select {
	case h.Register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}

	go c.WritePump()
	go c.ReadPump()
	return c
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// Run starts the hub's main processing loop. It is the single goroutine
// that owns the connection table, and it removes a client from every room
// it joined once the client's reader exits.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.Register:
			h.clients[c.ID] = c
			metrics.ConnectionsActive.Inc()
			c.logger.Info().Str("account", c.account).Int("clients", len(h.clients)).Msg("client registered")

		case c := <-h.Unregister:
			if _, ok := h.clients[c.ID]; !ok {
				continue
			}
			delete(h.clients, c.ID)
			metrics.ConnectionsActive.Dec()
			h.disconnect(c)
			c.logger.Info().Int("clients", len(h.clients)).Msg("client unregistered")

		case <-ctx.Done():
			for id, c := range h.clients {
				h.disconnect(c)
				if c.conn != nil {
					c.conn.Close()
				}
				delete(h.clients, id)
				metrics.ConnectionsActive.Dec()
			}
			h.logger.Info().Msg("hub stopped")
			return
		}
	}
}

func (h *Hub) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()

	deps := h.rooms.Disconnect(ctx, c.ID)
	if len(deps) > 0 {
		c.logger.Debug().Int("rooms", len(deps)).Msg("left rooms on disconnect")
	}
	c.close()
}
