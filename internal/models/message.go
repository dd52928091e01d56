package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery status as the server reports it.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// DeliveryState is the client-tracked acknowledgement lifecycle of a message.
// States are ordered; a message only ever moves to a higher state.
type DeliveryState int

const (
	StateCreated DeliveryState = iota + 1
	StateSent
	StateDelivered
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	default:
		return "unknown"
	}
}

// Upgrade returns next if it ranks strictly higher than s, and s otherwise.
func (s DeliveryState) Upgrade(next DeliveryState) (DeliveryState, bool) {
	if next > s {
		return next, true
	}
	return s, false
}

// State maps a server status to the matching delivery state. Anything the
// server stored counts as at least sent.
func (st MessageStatus) State() DeliveryState {
	switch st {
	case StatusDelivered:
		return StateDelivered
	case StatusRead:
		return StateRead
	default:
		return StateSent
	}
}

// Direction tags a ChatMessage as written by us or by a peer.
type Direction int

const (
	Outgoing Direction = iota + 1
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// ChatMessage is one entry of a conversation history.
//
// For outgoing messages State is the acknowledgement state reported by the
// server. For incoming messages it records our own receipt: Delivered once
// received, Read once a read receipt has been issued for it.
type ChatMessage struct {
	Direction Direction
	UUID      uuid.UUID
	Sender    uuid.UUID
	Target    uuid.UUID
	Content   string
	Timestamp time.Time
	State     DeliveryState
}

// NewOutgoing creates a message in the Created state with a fresh id.
func NewOutgoing(sender, target uuid.UUID, content string, now time.Time) ChatMessage {
	return ChatMessage{
		Direction: Outgoing,
		UUID:      uuid.New(),
		Sender:    sender,
		Target:    target,
		Content:   content,
		Timestamp: now,
		State:     StateCreated,
	}
}

// NewIncoming creates a received message.
func NewIncoming(id, sender, target uuid.UUID, content string, ts time.Time) ChatMessage {
	return ChatMessage{
		Direction: Incoming,
		UUID:      id,
		Sender:    sender,
		Target:    target,
		Content:   content,
		Timestamp: ts,
		State:     StateDelivered,
	}
}

func (m ChatMessage) IsOutgoing() bool {
	return m.Direction == Outgoing
}

// MessageRecord is a message as returned by the paginated history endpoint.
type MessageRecord struct {
	ID        uuid.UUID     `json:"id"`
	SenderID  uuid.UUID     `json:"senderId"`
	Target    uuid.UUID     `json:"target"`
	Content   string        `json:"content"`
	Timestamp JSONTime      `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// ChatMessage converts the record from the point of view of user self.
func (r MessageRecord) ChatMessage(self uuid.UUID) ChatMessage {
	m := ChatMessage{
		UUID:      r.ID,
		Sender:    r.SenderID,
		Target:    r.Target,
		Content:   r.Content,
		Timestamp: r.Timestamp.Time(),
	}
	if r.SenderID == self {
		m.Direction = Outgoing
		m.State = r.Status.State()
		return m
	}
	m.Direction = Incoming
	m.State = StateDelivered
	if r.Status == StatusRead {
		m.State = StateRead
	}
	return m
}
