package websocket

import (
	"time"

	"blinkchat-client/internal/queue"

	"github.com/google/uuid"
)

// Command is an outbound intent queued for the controller. The set of
// commands is closed: Connect, Disconnect, SendMessage and MarkRead.
type Command interface {
	commandName() string
}

// Connect opens a session to URL, authenticating with AuthToken.
type Connect struct {
	URL       string
	AuthToken string
}

// Disconnect closes the current session, if any.
type Disconnect struct{}

// SendMessage transmits a message created locally with the given UUID.
type SendMessage struct {
	UUID    uuid.UUID
	Target  uuid.UUID
	Content string
}

// MarkRead tells the server the listed messages from Target were read.
type MarkRead struct {
	Target uuid.UUID
	UUIDs  []uuid.UUID
}

func (Connect) commandName() string     { return "connect" }
func (Disconnect) commandName() string  { return "disconnect" }
func (SendMessage) commandName() string { return MessageTypeSendMessage }
func (MarkRead) commandName() string    { return MessageTypeMarkRead }

// CommandSender is the producer handle applications use to reach the
// controller.
type CommandSender = queue.Sender[Command]

// Event is one item of the controller's output stream. The set of events is
// closed; consumers switch on the concrete type.
type Event interface {
	eventName() string
}

// Ready is always the first event. It carries the command handle.
type Ready struct {
	Sender *CommandSender
}

// Connected follows a successful Connect.
type Connected struct{}

// Disconnected follows an explicit Disconnect of a live session.
type Disconnected struct{}

// MessageReceived is a message pushed by the server.
type MessageReceived struct {
	UUID      uuid.UUID
	Sender    uuid.UUID
	Target    uuid.UUID
	Content   string
	Timestamp time.Time
}

// MessageSent acknowledges that the server stored our message.
type MessageSent struct {
	UUID uuid.UUID
}

// MessageDelivered acknowledges that our message reached its target.
type MessageDelivered struct {
	UUID uuid.UUID
}

// MessagesRead reports that Target read the listed messages.
type MessagesRead struct {
	Target uuid.UUID
	UUIDs  []uuid.UUID
}

// ErrorEvent carries a classified failure together with the connection
// state after it was handled.
type ErrorEvent struct {
	Err   *Error
	State State
}

func (Ready) eventName() string            { return "ready" }
func (Connected) eventName() string        { return "connected" }
func (Disconnected) eventName() string     { return "disconnected" }
func (MessageReceived) eventName() string  { return MessageTypeNewMessage }
func (MessageSent) eventName() string      { return MessageTypeMessageSent }
func (MessageDelivered) eventName() string { return MessageTypeMessageDelivered }
func (MessagesRead) eventName() string     { return MessageTypeMessagesRead }
func (ErrorEvent) eventName() string       { return MessageTypeError }

// EventName returns a stable label for ev, suitable for logs and metrics.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}
