package websocket

import (
	"encoding/json"

	"blinkchat-client/internal/models"

	"github.com/google/uuid"
)

// Frame type discriminators.
const (
	// client -> server
	MessageTypeSendMessage = "send_message"
	MessageTypeMarkRead    = "mark_read"

	// server -> client
	MessageTypeNewMessage       = "new_message"
	MessageTypeMessageSent      = "message_sent"
	MessageTypeMessageDelivered = "message_delivered"
	MessageTypeMessagesRead     = "messages_read"
	MessageTypeError            = "error"
)

// WebSocketMessage is the envelope of every frame. Type selects how the
// payload is interpreted.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// rawMessage is the decoding side of WebSocketMessage.
type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendMessagePayload carries a new outgoing message. UUID is generated by
// the client when the message is created.
type SendMessagePayload struct {
	UUID    uuid.UUID `json:"uuid"`
	Target  uuid.UUID `json:"target"`
	Content string    `json:"content"`
}

// MarkReadPayload reports that the listed messages of target were read.
type MarkReadPayload struct {
	Target uuid.UUID   `json:"target"`
	UUIDs  []uuid.UUID `json:"uuids"`
}

// NewMessagePayload is pushed by the server when a message arrives.
type NewMessagePayload struct {
	UUID      uuid.UUID       `json:"uuid"`
	Sender    uuid.UUID       `json:"sender"`
	Target    uuid.UUID       `json:"target"`
	Content   string          `json:"content"`
	Timestamp models.JSONTime `json:"timestamp"`
}

// MessageAckPayload acknowledges a single message (sent or delivered).
type MessageAckPayload struct {
	UUID uuid.UUID `json:"uuid"`
}

// MessagesReadPayload reports that target has read the listed messages.
type MessagesReadPayload struct {
	Target uuid.UUID   `json:"target"`
	UUIDs  []uuid.UUID `json:"uuids"`
}

// ErrorPayload is a structured error sent by the server.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
