package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeWait is the deadline for a single write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	sendBufSize = 32
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Client is one authenticated websocket connection.
type Client struct {
	UserID   string
	Username string
	Role     string

	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	state atomic.Int32

	// closed is guarded by hub.mu.
	closed bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID, username, role string) *Client {
	c := &Client{
		UserID:   userID,
		Username: username,
		Role:     role,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
	}
	c.setState(StateConnecting)
	return c
}

// State returns the connection's lifecycle stage.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Open marks the client ready for traffic.
func (c *Client) Open() {
	c.state.CompareAndSwap(int32(StateJoined), int32(StateOpen))
}

// Send queues msg for this connection only.
func (c *Client) Send(msg []byte) bool {
	return c.hub.send(c, msg)
}

// ReadPump pumps messages from the websocket connection to handle. It
// unregisters the client when the connection ends.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", c.UserID).Msg("Websocket read error")
			}
			return
		}
		handle(c, message)
	}
}

// WritePump pumps queued messages to the connection and pings periodically.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
