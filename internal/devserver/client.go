package devserver

import (
	"encoding/json"
	"time"

	"blinkchat-client/internal/websocket"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client bridges one WebSocket connection with the hub.
type Client struct {
	hub    *Hub
	conn   *gorilla.Conn
	send   chan []byte
	userID uuid.UUID
	log    zerolog.Logger
}

func NewClient(hub *Hub, conn *gorilla.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		log:    hub.log.With().Str("user", userID.String()).Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.log.Debug().Msg("read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			} else {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		if messageType != gorilla.TextMessage {
			c.log.Debug().Int("message_type", messageType).Msg("ignoring non-text frame")
			continue
		}
		select {
		case c.hub.processMessage <- HubMessage{client: c, rawJSON: message}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gorilla.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorilla.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// SendMessage places a frame onto the outbound queue for this client.
func (c *Client) SendMessage(msgType string, payload interface{}) {
	data, err := json.Marshal(websocket.WebSocketMessage{Type: msgType, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Str("type", msgType).Msg("marshal failed")
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendError(code, message string) {
	c.SendMessage(websocket.MessageTypeError, websocket.ErrorPayload{Code: code, Message: message})
}

func (c *Client) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn().Msg("send channel full, dropping frame")
	}
}

// HubMessage holds raw JSON from a client awaiting processing.
type HubMessage struct {
	client  *Client
	rawJSON []byte
}
