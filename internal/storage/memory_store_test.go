package storage

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"skillchat/internal/models"
)

func TestMemoryUserRepository(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	u := &models.User{Username: "alice", PasswordHash: "hash"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected an assigned id")
	}

	if err := repo.Create(ctx, &models.User{Username: "alice"}); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}

	got, err := repo.GetByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByUsername failed: %+v, %v", got, err)
	}
	if _, err := repo.GetByUsername(ctx, "nobody"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	got.Nickname = "Alice"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	info, err := repo.GetBasicInfoByID(ctx, u.ID)
	if err != nil || info.Nickname != "Alice" {
		t.Fatalf("GetBasicInfoByID failed: %+v, %v", info, err)
	}
}

func TestMemoryMessageRepository(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		msg := &models.DirectMessage{SenderID: 1, ReceiverID: 2, Content: content}
		if err := repo.Create(ctx, msg); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if msg.ID == 0 || msg.SentAt.IsZero() {
			t.Fatalf("expected id and sent time assigned: %+v", msg)
		}
	}
	// 其他用户之间的消息不应混入
	if err := repo.Create(ctx, &models.DirectMessage{SenderID: 3, ReceiverID: 4, Content: "noise"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	msgs, err := repo.GetConversation(ctx, 2, 1, 0, 0)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// 最新在前
	if msgs[0].Content != "three" || msgs[2].Content != "one" {
		t.Fatalf("expected newest-first order: %q ... %q", msgs[0].Content, msgs[2].Content)
	}

	paged, err := repo.GetConversation(ctx, 1, 2, 2, 1)
	if err != nil {
		t.Fatalf("GetConversation paged failed: %v", err)
	}
	if len(paged) != 2 || paged[0].Content != "two" || paged[1].Content != "one" {
		t.Fatalf("unexpected page: %+v", paged)
	}

	if err := repo.MarkRead(ctx, 2, 1, []uint{msgs[0].ID, msgs[1].ID}); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	after, _ := repo.GetConversation(ctx, 1, 2, 0, 0)
	if !after[0].IsRead || !after[1].IsRead || after[2].IsRead {
		t.Fatalf("unexpected read flags: %v %v %v", after[0].IsRead, after[1].IsRead, after[2].IsRead)
	}

	// 只有真正的接收者可以翻转已读状态
	if err := repo.MarkRead(ctx, 1, 2, []uint{after[2].ID}); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	final, _ := repo.GetConversation(ctx, 1, 2, 0, 0)
	if final[2].IsRead {
		t.Fatalf("a non-receiver must not flip read state")
	}
}

func TestFirstPageHoldsNewestMessages(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		msg := &models.DirectMessage{SenderID: 1, ReceiverID: 2, Content: "m"}
		if err := repo.Create(ctx, msg); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// 超过一页时,第一页必须是最新的 50 条,最老的被挤到下一页。
	page, err := repo.GetConversation(ctx, 1, 2, 50, 0)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(page) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(page))
	}
	if page[0].ID != 60 || page[49].ID != 11 {
		t.Fatalf("first page should hold ids 60..11, got %d..%d", page[0].ID, page[49].ID)
	}

	next, err := repo.GetConversation(ctx, 1, 2, 50, 50)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(next) != 10 || next[0].ID != 10 || next[9].ID != 1 {
		t.Fatalf("second page should hold ids 10..1, got %+v", next)
	}
}
