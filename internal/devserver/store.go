package devserver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"blinkchat-client/internal/models"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailExists     = errors.New("email already exists")
	ErrMessageNotFound = errors.New("message not found")
)

// UserStore defines the user data operations of the server.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// MessageStore defines the message data operations of the server.
type MessageStore interface {
	CreateMessage(ctx context.Context, message *models.MessageRecord) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*models.MessageRecord, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status models.MessageStatus) error
	// GetConversation returns one page of the messages exchanged between a
	// and b. Page 0 holds the newest messages; each page is ascending.
	GetConversation(ctx context.Context, a, b uuid.UUID, page, pageSize int) ([]*models.MessageRecord, error)
}

// MemoryStore keeps users and messages in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	byEmail  map[string]uuid.UUID
	messages map[uuid.UUID]*models.MessageRecord
	// order is insertion order, which is also timestamp order.
	order []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]*models.User),
		byEmail:  make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID]*models.MessageRecord),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailExists
	}
	u := *user
	s.users[u.ID] = &u
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, message *models.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[message.ID]; ok {
		return errors.New("message id already exists")
	}
	m := *message
	s.messages[m.ID] = &m
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryStore) GetMessageByID(_ context.Context, id uuid.UUID) (*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

// UpdateMessageStatus never lowers a status.
func (s *MemoryStore) UpdateMessageStatus(_ context.Context, id uuid.UUID, status models.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	if status.State() > m.Status.State() {
		m.Status = status
	}
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, a, b uuid.UUID, page, pageSize int) ([]*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conv []*models.MessageRecord
	for _, id := range s.order {
		m := s.messages[id]
		if (m.SenderID == a && m.Target == b) || (m.SenderID == b && m.Target == a) {
			conv = append(conv, m)
		}
	}

	end := len(conv) - page*pageSize
	if page < 0 || pageSize <= 0 || end <= 0 {
		return []*models.MessageRecord{}, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	out := make([]*models.MessageRecord, 0, end-start)
	for _, m := range conv[start:end] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}
