package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Medal-OF-Owner/Chatlet/internal/metrics"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers with many
	// candidates stay well below this.
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection. Its ID is the connection identity
// every room membership and signal refers to.
type Client struct {
	ID string

	hub  *Hub
	conn *websocket.Conn

	// account is the display name resolved from the session token, if any.
	account string

	// send is drained by WritePump. Producers never block on it: see Deliver.
	send chan *protocol.Message

	mu     sync.Mutex
	closed bool
	kicked bool

	logger zerolog.Logger
}

func newClient(h *Hub, conn *websocket.Conn, account string) *Client {
	id := uuid.NewString()
	return &Client{
		ID:      id,
		hub:     h,
		conn:    conn,
		account: account,
		send:    make(chan *protocol.Message, h.sendBuffer),
		logger:  h.logger.With().Str("conn", id).Logger(),
	}
}

// Deliver enqueues msg without blocking. A client whose buffer is full is
// too slow to keep up with its rooms and gets disconnected.
func (c *Client) Deliver(msg *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.kicked {
		metrics.DeliveriesDropped.Inc()
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		metrics.DeliveriesDropped.Inc()
		c.kicked = true
		c.logger.Warn().Str("type", msg.Type).Msg("send buffer full, disconnecting client")
		if c.conn != nil {
			c.conn.Close()
		}
		return false
	}
}

// close stops the write pump. Only the hub calls it, once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps messages from the websocket connection to the dispatcher.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		c.hub.dispatch(c, &msg)
	}
}

// WritePump pumps messages from the send buffer to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
