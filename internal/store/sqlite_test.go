package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func createConv(t *testing.T, s *SQLiteStore, userID string) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{ID: uuid.NewString(), UserID: userID, ConnectionID: "conn-1"}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation, got nil")
	}
	if got.UserID != "user-1" || got.ConnectionID != "conn-1" {
		t.Errorf("got %+v", got)
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetConversation(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing conversation, got %+v", got)
	}
}

func TestFindActiveByUserPicksMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := createConv(t, s, "user-1")
	newer := createConv(t, s, "user-1")

	if err := s.TouchActivity(ctx, older.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("TouchActivity failed: %v", err)
	}
	if err := s.TouchActivity(ctx, newer.ID, time.Now()); err != nil {
		t.Fatalf("TouchActivity failed: %v", err)
	}

	got, err := s.FindActiveByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("FindActiveByUser failed: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Errorf("expected %s, got %+v", newer.ID, got)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	for i := 0; i < 5; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := &domain.Message{Role: role, Content: fmt.Sprintf("turn %d", i)}
		if err := s.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	history, err := s.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	for i, m := range history {
		if m.Content != fmt.Sprintf("turn %d", i) {
			t.Errorf("position %d holds %q", i, m.Content)
		}
	}
}

func TestReplaceWithSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	for i := 0; i < 12; i++ {
		msg := &domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("turn %d", i)}
		if err := s.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	// Replace the first 4 messages, keep the last 8.
	if err := s.ReplaceWithSummary(ctx, conv.ID, "earlier: setup work", 4); err != nil {
		t.Fatalf("ReplaceWithSummary failed: %v", err)
	}

	history, err := s.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 9 {
		t.Fatalf("history length = %d, want 9 (summary + 8 retained)", len(history))
	}
	if !history[0].IsSummary || history[0].Content != "earlier: setup work" {
		t.Errorf("first message should be the summary, got %+v", history[0])
	}
	for i := 1; i < len(history); i++ {
		want := fmt.Sprintf("turn %d", i+3)
		if history[i].Content != want {
			t.Errorf("position %d holds %q, want %q", i, history[i].Content, want)
		}
		if history[i].IsSummary {
			t.Errorf("retained message %d wrongly marked as summary", i)
		}
	}
}

func TestReplaceWithSummaryRepeatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	for i := 0; i < 6; i++ {
		if err := s.AppendMessage(ctx, conv.ID, &domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	if err := s.ReplaceWithSummary(ctx, conv.ID, "first summary", 2); err != nil {
		t.Fatalf("first ReplaceWithSummary failed: %v", err)
	}
	// Compact again over the compacted log.
	if err := s.ReplaceWithSummary(ctx, conv.ID, "second summary", 3); err != nil {
		t.Fatalf("second ReplaceWithSummary failed: %v", err)
	}

	history, err := s.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if !history[0].IsSummary || history[0].Content != "second summary" {
		t.Errorf("first message = %+v", history[0])
	}
	if history[1].Content != "turn 4" || history[2].Content != "turn 5" {
		t.Errorf("retained tail = %q, %q", history[1].Content, history[2].Content)
	}
}

func TestReplaceWithSummaryNoOpOnShortLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	if err := s.AppendMessage(ctx, conv.ID, &domain.Message{Role: domain.RoleUser, Content: "only one"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := s.ReplaceWithSummary(ctx, conv.ID, "summary", 5); err != nil {
		t.Fatalf("ReplaceWithSummary should no-op: %v", err)
	}

	history, err := s.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "only one" {
		t.Errorf("log should be untouched, got %+v", history)
	}
}

func TestAddTokenUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := createConv(t, s, "user-1")

	if err := s.AddTokenUsage(ctx, conv.ID, 150); err != nil {
		t.Fatalf("AddTokenUsage failed: %v", err)
	}
	if err := s.AddTokenUsage(ctx, conv.ID, 50); err != nil {
		t.Fatalf("AddTokenUsage failed: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.TokensUsed != 200 {
		t.Errorf("TokensUsed = %d, want 200", got.TokensUsed)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := createConv(t, s, "user-1")
	live := createConv(t, s, "user-2")

	if err := s.AppendMessage(ctx, stale.ID, &domain.Message{Role: domain.RoleUser, Content: "old"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := s.TouchActivity(ctx, stale.ID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("TouchActivity failed: %v", err)
	}

	removed, err := s.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if got, _ := s.GetConversation(ctx, stale.ID); got != nil {
		t.Error("stale conversation should be gone")
	}
	if got, _ := s.GetConversation(ctx, live.ID); got == nil {
		t.Error("live conversation should survive")
	}
	if history, _ := s.History(ctx, stale.ID); len(history) != 0 {
		t.Errorf("stale messages should be gone, got %d", len(history))
	}
}
