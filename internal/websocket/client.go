// internal/websocket/client.go
package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClientBufferFull is returned when a client cannot keep up with the
// event stream
var ErrClientBufferFull = errors.New("client send buffer full")

// Event is one pushed event on the wire
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is one connected event-stream subscriber
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewClient wraps an upgraded connection
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// SendEvent queues one event for delivery. A slow client drops the event
// rather than blocking the broadcast path.
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	data, err := json.Marshal(&Event{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientBufferFull
	}
}

// WritePump drains the send channel into the connection until closed
func (c *Client) WritePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// Close stops the client's write pump
func (c *Client) Close() {
	c.once.Do(func() { close(c.send) })
}
