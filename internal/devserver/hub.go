package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"blinkchat-client/internal/models"
	"blinkchat-client/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// rawFrame is the decoding side of an inbound frame.
type rawFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub maintains active WebSocket clients and routes frames between them.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]bool
	clientsMux sync.RWMutex

	processMessage chan HubMessage
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}

	userStore    UserStore
	messageStore MessageStore
	now          func() time.Time
	log          zerolog.Logger

	// received counts frames per user, for tests.
	received   map[uuid.UUID]int
	receivedMu sync.Mutex
}

func NewHub(us UserStore, ms MessageStore, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:        make(map[uuid.UUID]map[*Client]bool),
		processMessage: make(chan HubMessage),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		userStore:      us,
		messageStore:   ms,
		now:            time.Now,
		log:            logger.With().Str("component", "hub").Logger(),
		received:       make(map[uuid.UUID]int),
	}
}

// Run processes hub events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("hub stopped")
			return

		case client := <-h.register:
			h.clientsMux.Lock()
			if _, ok := h.clients[client.userID]; !ok {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.log.Debug().Str("user", client.userID.String()).Int("connections", len(h.clients[client.userID])).Msg("client registered")
			h.clientsMux.Unlock()

		case client := <-h.unregister:
			h.clientsMux.Lock()
			if userClients, ok := h.clients[client.userID]; ok {
				if _, exists := userClients[client]; exists {
					close(client.send)
					delete(userClients, client)
					if len(userClients) == 0 {
						delete(h.clients, client.userID)
					}
					h.log.Debug().Str("user", client.userID.String()).Int("connections", len(userClients)).Msg("client unregistered")
				}
			}
			h.clientsMux.Unlock()

		case msg := <-h.processMessage:
			h.handleIncomingMessage(ctx, msg.client, msg.rawJSON)
		}
	}
}

func (h *Hub) handleIncomingMessage(ctx context.Context, sender *Client, raw []byte) {
	h.receivedMu.Lock()
	h.received[sender.userID]++
	h.receivedMu.Unlock()

	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Debug().Err(err).Str("user", sender.userID.String()).Msg("invalid frame")
		sender.sendError("", "Invalid message format")
		return
	}

	switch frame.Type {
	case websocket.MessageTypeSendMessage:
		var payload websocket.SendMessagePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			sender.sendError("", "Invalid send_message payload")
			return
		}
		h.handleSendMessage(ctx, sender, payload)

	case websocket.MessageTypeMarkRead:
		var payload websocket.MarkReadPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			sender.sendError("", "Invalid mark_read payload")
			return
		}
		h.handleMarkRead(ctx, sender, payload)

	default:
		h.log.Debug().Str("type", frame.Type).Str("user", sender.userID.String()).Msg("unknown frame type")
		sender.sendError("", "Unknown message type")
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, sender *Client, payload websocket.SendMessagePayload) {
	if payload.UUID == uuid.Nil || payload.Content == "" {
		sender.sendError("", "send_message requires uuid and content")
		return
	}
	if payload.Target == sender.userID {
		sender.sendError(websocket.CodeAccessDenied, "Cannot send message to yourself")
		return
	}
	if _, err := h.userStore.GetUserByID(ctx, payload.Target); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			sender.sendError(websocket.CodeUserNotFound, "Target user not found")
			return
		}
		h.log.Error().Err(err).Msg("lookup target failed")
		sender.sendError("", "Error processing message")
		return
	}

	record := &models.MessageRecord{
		ID:        payload.UUID,
		SenderID:  sender.userID,
		Target:    payload.Target,
		Content:   payload.Content,
		Timestamp: models.JSONTime(h.now().UTC()),
		Status:    models.StatusSent,
	}
	if err := h.messageStore.CreateMessage(ctx, record); err != nil {
		h.log.Warn().Err(err).Str("uuid", record.ID.String()).Msg("store message failed")
		sender.sendError("", "Failed to send message")
		return
	}
	sender.SendMessage(websocket.MessageTypeMessageSent, websocket.MessageAckPayload{UUID: record.ID})

	forwarded := h.BroadcastToUser(record.Target, websocket.MessageTypeNewMessage, websocket.NewMessagePayload{
		UUID:      record.ID,
		Sender:    record.SenderID,
		Target:    record.Target,
		Content:   record.Content,
		Timestamp: record.Timestamp,
	})
	if forwarded == 0 {
		h.log.Debug().Str("target", record.Target.String()).Msg("target offline, message stays sent")
		return
	}
	if err := h.messageStore.UpdateMessageStatus(ctx, record.ID, models.StatusDelivered); err != nil {
		h.log.Warn().Err(err).Msg("update status failed")
		return
	}
	sender.SendMessage(websocket.MessageTypeMessageDelivered, websocket.MessageAckPayload{UUID: record.ID})
}

func (h *Hub) handleMarkRead(ctx context.Context, reader *Client, payload websocket.MarkReadPayload) {
	bySender := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range payload.UUIDs {
		msg, err := h.messageStore.GetMessageByID(ctx, id)
		if err != nil {
			reader.sendError(websocket.CodeMessageNotFound, "Message "+id.String()+" not found")
			continue
		}
		if msg.Target != reader.userID {
			reader.sendError(websocket.CodeAccessDenied, "Message "+id.String()+" was not sent to you")
			continue
		}
		if err := h.messageStore.UpdateMessageStatus(ctx, id, models.StatusRead); err != nil {
			h.log.Warn().Err(err).Msg("update status failed")
			continue
		}
		bySender[msg.SenderID] = append(bySender[msg.SenderID], id)
	}
	for senderID, ids := range bySender {
		h.BroadcastToUser(senderID, websocket.MessageTypeMessagesRead, websocket.MessagesReadPayload{
			Target: reader.userID,
			UUIDs:  ids,
		})
	}
}

// BroadcastToUser sends a frame to all connections of a user and returns
// how many received it.
func (h *Hub) BroadcastToUser(userID uuid.UUID, msgType string, payload interface{}) int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	userClients := h.clients[userID]
	for client := range userClients {
		client.SendMessage(msgType, payload)
	}
	return len(userClients)
}

// SendRaw writes data verbatim to every connection of a user.
func (h *Hub) SendRaw(userID uuid.UUID, data []byte) int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	userClients := h.clients[userID]
	for client := range userClients {
		client.sendRaw(data)
	}
	return len(userClients)
}

// Online reports whether the user has at least one connection.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients[userID]) > 0
}

// Received returns how many frames the user has sent.
func (h *Hub) Received(userID uuid.UUID) int {
	h.receivedMu.Lock()
	defer h.receivedMu.Unlock()
	return h.received[userID]
}
