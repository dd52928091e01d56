package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"blinkchat-client/internal/models"

	"github.com/google/uuid"
)

func TestConversationPages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	base := time.Now().UTC()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		rec := &models.MessageRecord{
			ID:        uuid.New(),
			SenderID:  from,
			Target:    to,
			Content:   "m",
			Timestamp: models.JSONTime(base.Add(time.Duration(i) * time.Second)),
			Status:    models.StatusSent,
		}
		if err := s.CreateMessage(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	// Unrelated conversation.
	_ = s.CreateMessage(ctx, &models.MessageRecord{ID: uuid.New(), SenderID: a, Target: c, Content: "x", Status: models.StatusSent})

	page0, _ := s.GetConversation(ctx, a, b, 0, 2)
	page1, _ := s.GetConversation(ctx, b, a, 1, 2)
	page2, _ := s.GetConversation(ctx, a, b, 2, 2)
	page3, _ := s.GetConversation(ctx, a, b, 3, 2)

	if len(page0) != 2 || page0[0].ID != ids[3] || page0[1].ID != ids[4] {
		t.Fatalf("page0 wrong")
	}
	if len(page1) != 2 || page1[0].ID != ids[1] || page1[1].ID != ids[2] {
		t.Fatalf("page1 wrong")
	}
	if len(page2) != 1 || page2[0].ID != ids[0] {
		t.Fatalf("page2 wrong")
	}
	if len(page3) != 0 {
		t.Fatalf("page3 should be empty")
	}
}

func TestStatusNeverLowers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()
	_ = s.CreateMessage(ctx, &models.MessageRecord{ID: id, Status: models.StatusSent})

	_ = s.UpdateMessageStatus(ctx, id, models.StatusRead)
	_ = s.UpdateMessageStatus(ctx, id, models.StatusDelivered)
	got, err := s.GetMessageByID(ctx, id)
	if err != nil || got.Status != models.StatusRead {
		t.Fatalf("got %+v err=%v", got, err)
	}
	if err := s.UpdateMessageStatus(ctx, uuid.New(), models.StatusRead); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := &models.User{ID: uuid.New(), Username: "alice", Email: "Alice@example.com"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &models.User{ID: uuid.New(), Username: "alice2", Email: "alice@example.com"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "ALICE@example.com"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
}
