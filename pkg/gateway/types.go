package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the envelope for every client-to-server message.
type Frame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Text   string          `json:"text,omitempty"`
	Stream bool            `json:"stream,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Client frame types.
const (
	FrameAuth   = "auth"
	FrameIntent = "intent"
	FrameAbort  = "abort"
	FramePing   = "ping"
)

// EventMessage is a server-initiated event.
type EventMessage struct {
	Event     string      `json:"event"`
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// AuthChallenge is sent right after connection upgrade.
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResult reports the outcome of a challenge response.
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ClientState tracks a connection through its lifecycle.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// Client is one connected WebSocket peer. Writes are serialized by a
// mutex because gorilla connections allow one concurrent writer.
type Client struct {
	ID            string
	SenderID      string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	AuthAttempts  int
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	State         ClientState

	writeMu sync.Mutex
	closed  bool
}

// Send writes one event to the peer. Implements the stream transport
// contract, so token streams go through the same serialized writer as
// direct replies.
func (c *Client) Send(event string, payload interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.Conn.WriteJSON(EventMessage{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// IsAlive reports whether the connection is still usable.
func (c *Client) IsAlive() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return !c.closed
}

// markClosed flags the connection dead so in-flight streams stop
// emitting to it.
func (c *Client) markClosed() {
	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()
}
