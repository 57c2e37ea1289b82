package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/louisbranch/matchbox/internal/game"
)

// conn is the slice of *websocket.Conn the client needs; tests substitute
// fakes.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket connection, bound to at most one match.
type Client struct {
	hub  *Hub
	conn conn

	// writeMu serializes writes to the connection: hub flushes arrive on
	// other goroutines while Serve replies to undecodable frames on its
	// own, and the websocket forbids concurrent writers.
	writeMu sync.Mutex

	match   *match
	nplayer int
	nick    string
}

// NewClient wraps an accepted connection.
func NewClient(h *Hub, c conn) *Client {
	return &Client{hub: h, conn: c, nplayer: game.ObserverRecipient}
}

// Serve reads inbound frames until the connection fails, then unbinds the
// client. It blocks; the HTTP handler runs it on the connection goroutine.
func (c *Client) Serve() {
	defer c.hub.drop(c)
	defer func() { _ = c.conn.Close() }()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(map[string]any{"type": "error", "message": "invalid message"})
			continue
		}
		c.hub.handle(c, msg)
	}
}

// wants reports whether a queued message with the given recipient list is
// addressed to this client.
func (c *Client) wants(recipients []int) bool {
	if len(recipients) == 0 {
		return true
	}
	for _, r := range recipients {
		if r == game.ObserverRecipient && c.nplayer < 0 {
			return true
		}
		if r >= 0 && r == c.nplayer {
			return true
		}
	}
	return false
}

func (c *Client) write(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("ws: write to %q: %v", c.nick, err)
	}
}

func (c *Client) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: encode message for %q: %v", c.nick, err)
		return
	}
	c.write(data)
}
