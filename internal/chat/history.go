package chat

import (
	"sort"

	"blinkchat-client/internal/models"

	"github.com/google/uuid"
)

// History is one conversation: unique by UUID, ascending by timestamp.
// Entries are never removed.
type History struct {
	messages []models.ChatMessage
	index    map[uuid.UUID]int
}

func NewHistory() *History {
	return &History{index: make(map[uuid.UUID]int)}
}

func (h *History) Len() int {
	return len(h.messages)
}

// Messages returns a copy of the ordered history.
func (h *History) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Get(id uuid.UUID) (models.ChatMessage, bool) {
	i, ok := h.index[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return h.messages[i], true
}

// Add inserts m after every entry with an equal or earlier timestamp. If
// the UUID is already present the existing entry is kept and only its
// state is raised. It reports whether m was inserted.
func (h *History) Add(m models.ChatMessage) bool {
	if i, ok := h.index[m.UUID]; ok {
		if next, raised := h.messages[i].State.Upgrade(m.State); raised {
			h.messages[i].State = next
		}
		return false
	}

	pos := sort.Search(len(h.messages), func(i int) bool {
		return h.messages[i].Timestamp.After(m.Timestamp)
	})
	h.messages = append(h.messages, models.ChatMessage{})
	copy(h.messages[pos+1:], h.messages[pos:])
	h.messages[pos] = m
	for i := pos; i < len(h.messages); i++ {
		h.index[h.messages[i].UUID] = i
	}
	return true
}

// Merge adds every message of page and returns how many were new.
func (h *History) Merge(page []models.ChatMessage) int {
	added := 0
	for _, m := range page {
		if h.Add(m) {
			added++
		}
	}
	return added
}

// Upgrade raises the state of message id if state ranks strictly higher.
func (h *History) Upgrade(id uuid.UUID, state models.DeliveryState) bool {
	i, ok := h.index[id]
	if !ok {
		return false
	}
	next, raised := h.messages[i].State.Upgrade(state)
	h.messages[i].State = next
	return raised
}

// Unread lists incoming messages that have not been marked read, oldest
// first.
func (h *History) Unread() []uuid.UUID {
	var ids []uuid.UUID
	for _, m := range h.messages {
		if !m.IsOutgoing() && m.State < models.StateRead {
			ids = append(ids, m.UUID)
		}
	}
	return ids
}
