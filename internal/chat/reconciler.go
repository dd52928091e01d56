// Package chat keeps the client-side message histories in step with the
// acknowledgements that arrive over the websocket.
package chat

import (
	"errors"
	"time"

	"blinkchat-client/internal/models"
	"blinkchat-client/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoSender       = errors.New("chat: no command sender")
	ErrEmptyMessage   = errors.New("chat: empty message")
	ErrNoConversation = errors.New("chat: no conversation selected")
)

// CommandSink accepts commands for the controller. *websocket.CommandSender
// satisfies it.
type CommandSink interface {
	Send(websocket.Command) error
}

// Reconciler owns every conversation history of one user. It is not safe
// for concurrent use; the goroutine reading controller events drives it.
type Reconciler struct {
	self uuid.UUID
	sink CommandSink

	histories map[uuid.UUID]*History
	// owner maps a message id to its conversation.
	owner     map[uuid.UUID]uuid.UUID
	nextPage  map[uuid.UUID]int
	exhausted map[uuid.UUID]bool

	selected    uuid.UUID
	hasSelected bool

	now func() time.Time
	log zerolog.Logger
}

func NewReconciler(self uuid.UUID, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		self:      self,
		histories: make(map[uuid.UUID]*History),
		owner:     make(map[uuid.UUID]uuid.UUID),
		nextPage:  make(map[uuid.UUID]int),
		exhausted: make(map[uuid.UUID]bool),
		now:       time.Now,
		log:       logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetSender installs the command handle, normally the one carried by the
// Ready event.
func (r *Reconciler) SetSender(sink CommandSink) {
	r.sink = sink
}

func (r *Reconciler) Self() uuid.UUID {
	return r.self
}

// Selected returns the conversation currently on screen.
func (r *Reconciler) Selected() (uuid.UUID, bool) {
	return r.selected, r.hasSelected
}

// Select makes conv the visible conversation and marks its loaded unread
// messages read.
func (r *Reconciler) Select(conv uuid.UUID) error {
	r.selected = conv
	r.hasSelected = true
	return r.markUnreadRead(conv)
}

// History returns a copy of the conversation with conv.
func (r *Reconciler) History(conv uuid.UUID) []models.ChatMessage {
	h, ok := r.histories[conv]
	if !ok {
		return nil
	}
	return h.Messages()
}

// Message looks up a message by id across conversations.
func (r *Reconciler) Message(id uuid.UUID) (models.ChatMessage, bool) {
	conv, ok := r.owner[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return r.histories[conv].Get(id)
}

// Send creates an outgoing message in the Created state, appends it to the
// conversation with target and queues it for transmission. The message
// stays in the history even if queueing fails.
func (r *Reconciler) Send(target uuid.UUID, content string) (models.ChatMessage, error) {
	if content == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	msg := models.NewOutgoing(r.self, target, content, r.now())
	r.add(target, msg)

	err := r.enqueue(websocket.SendMessage{UUID: msg.UUID, Target: target, Content: content})
	return msg, err
}

// SendSelected sends content to the selected conversation.
func (r *Reconciler) SendSelected(content string) (models.ChatMessage, error) {
	if !r.hasSelected {
		return models.ChatMessage{}, ErrNoConversation
	}
	return r.Send(r.selected, content)
}

// NextPage returns the next history page to request for conv; ok is false
// once the server returned an empty page.
func (r *Reconciler) NextPage(conv uuid.UUID) (page int, ok bool) {
	if r.exhausted[conv] {
		return 0, false
	}
	return r.nextPage[conv], true
}

// MergePage folds a fetched page into the conversation with conv and
// advances its page cursor. It returns the number of new messages.
func (r *Reconciler) MergePage(conv uuid.UUID, records []models.MessageRecord) (int, error) {
	if len(records) == 0 {
		r.exhausted[conv] = true
		return 0, nil
	}
	r.nextPage[conv]++

	page := make([]models.ChatMessage, 0, len(records))
	for _, rec := range records {
		page = append(page, rec.ChatMessage(r.self))
	}
	h := r.history(conv)
	added := h.Merge(page)
	for _, m := range page {
		r.owner[m.UUID] = conv
	}
	r.log.Debug().Str("conversation", conv.String()).Int("records", len(records)).Int("added", added).Msg("merged page")

	if r.hasSelected && r.selected == conv {
		return added, r.markUnreadRead(conv)
	}
	return added, nil
}

// Apply folds one controller event into the histories. Events that carry
// no message state are ignored.
func (r *Reconciler) Apply(ev websocket.Event) error {
	switch ev := ev.(type) {
	case websocket.Ready:
		r.SetSender(ev.Sender)
	case websocket.MessageReceived:
		return r.receive(ev)
	case websocket.MessageSent:
		r.upgrade(ev.UUID, models.StateSent)
	case websocket.MessageDelivered:
		r.upgrade(ev.UUID, models.StateDelivered)
	case websocket.MessagesRead:
		for _, id := range ev.UUIDs {
			r.upgrade(id, models.StateRead)
		}
	}
	return nil
}

func (r *Reconciler) receive(ev websocket.MessageReceived) error {
	conv := r.conversationOf(ev.Sender, ev.Target)
	msg := models.NewIncoming(ev.UUID, ev.Sender, ev.Target, ev.Content, ev.Timestamp)
	if !r.add(conv, msg) {
		return nil
	}
	if !r.hasSelected || r.selected != conv {
		return nil
	}
	if err := r.enqueue(websocket.MarkRead{Target: conv, UUIDs: []uuid.UUID{msg.UUID}}); err != nil {
		return err
	}
	r.histories[conv].Upgrade(msg.UUID, models.StateRead)
	return nil
}

// upgrade raises an outgoing message. Unknown ids are ignored.
func (r *Reconciler) upgrade(id uuid.UUID, state models.DeliveryState) {
	conv, ok := r.owner[id]
	if !ok {
		r.log.Debug().Str("uuid", id.String()).Str("state", state.String()).Msg("ack for unknown message")
		return
	}
	h := r.histories[conv]
	if m, ok := h.Get(id); !ok || !m.IsOutgoing() {
		return
	}
	h.Upgrade(id, state)
}

func (r *Reconciler) markUnreadRead(conv uuid.UUID) error {
	h, ok := r.histories[conv]
	if !ok {
		return nil
	}
	unread := h.Unread()
	if len(unread) == 0 {
		return nil
	}
	// Messages stay unread until the receipt is queued so a later Select
	// retries them.
	if err := r.enqueue(websocket.MarkRead{Target: conv, UUIDs: unread}); err != nil {
		return err
	}
	for _, id := range unread {
		h.Upgrade(id, models.StateRead)
	}
	return nil
}

// ConversationOf returns the conversation a message between sender and
// target is filed under: the sender for direct messages to us, the target
// otherwise.
func (r *Reconciler) ConversationOf(sender, target uuid.UUID) uuid.UUID {
	return r.conversationOf(sender, target)
}

func (r *Reconciler) conversationOf(sender, target uuid.UUID) uuid.UUID {
	if sender == r.self {
		return target
	}
	if target == r.self || target == uuid.Nil {
		return sender
	}
	return target
}

func (r *Reconciler) add(conv uuid.UUID, m models.ChatMessage) bool {
	r.owner[m.UUID] = conv
	return r.history(conv).Add(m)
}

func (r *Reconciler) history(conv uuid.UUID) *History {
	h, ok := r.histories[conv]
	if !ok {
		h = NewHistory()
		r.histories[conv] = h
	}
	return h
}

func (r *Reconciler) enqueue(cmd websocket.Command) error {
	if r.sink == nil {
		return websocket.NewError(websocket.KindSend, "no command sender", ErrNoSender)
	}
	if err := r.sink.Send(cmd); err != nil {
		return websocket.NewError(websocket.KindSend, "enqueue failed", err)
	}
	return nil
}
