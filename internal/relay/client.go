package relay

import (
	"log"
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8192
)

// Client is one websocket connection in a document room. A user with two
// browser tabs open holds two clients with the same UserID.
type Client struct {
	ID         string // connection id, not user id
	DocumentID string
	UserID     string // set by the hub once the join envelope arrives

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection for a document room.
func NewClient(hub *Hub, conn *websocket.Conn, documentID string) *Client {
	return &Client{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
	}
}

// readPump reads frames off the websocket and feeds decoded envelopes to the
// hub. Each connection gets its own reading goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("relay: connection %s read error: %v", c.ID, err)
			}
			break
		}

		env, err := models.DecodeEnvelope(data)
		if err != nil {
			// Malformed frames are dropped without touching room state.
			log.Printf("relay: dropping malformed envelope on %s: %v", c.ID, err)
			continue
		}

		c.hub.events <- clientEvent{client: c, envelope: env}
	}
}

// writePump writes queued frames to the websocket. A separate goroutine per
// connection keeps a slow client from blocking the hub.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
