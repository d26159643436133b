//go:build integration

package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
	"github.com/verity0/verity/internal/testutil"
)

func TestConversationLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	conv, err := store.CreateConversation(ctx, "pricing questions")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == uuid.Nil {
		t.Fatal("conversation ID not assigned")
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "pricing questions" {
		t.Errorf("title = %q", got.Title)
	}

	if err := store.SetTitle(ctx, conv.ID, "renamed"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}

	list, err := store.ListConversations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 1 || list[0].Title != "renamed" {
		t.Errorf("list = %+v", list)
	}

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := store.GetConversation(ctx, conv.ID); !errors.Is(err, session.ErrConversationNotFound) {
		t.Errorf("GetConversation after delete = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendTurnSequencing(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	first, err := store.AppendTurn(ctx, conv.ID, session.RoleUser, "how much is the starter plan?", nil)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	second, err := store.AppendTurn(ctx, conv.ID, session.RoleAssistant,
		"The starter plan costs 49 dollars per month.", []string{"pricing-1"})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}

	turns, err := store.RecentTurns(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[1].Role != session.RoleAssistant {
		t.Errorf("turn order wrong: %v, %v", turns[0].Role, turns[1].Role)
	}
	if len(turns[1].Sources) != 1 || turns[1].Sources[0] != "pricing-1" {
		t.Errorf("sources = %v", turns[1].Sources)
	}
}

func TestAppendTurnValidation(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	if _, err := store.AppendTurn(ctx, uuid.New(), session.RoleUser, "hello", nil); !errors.Is(err, session.ErrConversationNotFound) {
		t.Errorf("append to missing conversation = %v, want ErrConversationNotFound", err)
	}

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := store.AppendTurn(ctx, conv.ID, session.RoleUser, "   ", nil); !errors.Is(err, session.ErrEmptyText) {
		t.Errorf("append empty text = %v, want ErrEmptyText", err)
	}
}

func TestSearchTurns(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	first, err := store.CreateConversation(ctx, "billing")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	second, err := store.CreateConversation(ctx, "support")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for _, turn := range []struct {
		conv uuid.UUID
		text string
	}{
		{first.ID, "how do refunds work?"},
		{first.ID, "Refunds are processed within 14 days."},
		{second.ID, "when does support respond?"},
	} {
		if _, err := store.AppendTurn(ctx, turn.conv, session.RoleUser, turn.text, nil); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	hits, err := store.SearchTurns(ctx, "REFUND", 10)
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 deduplicated conversation", len(hits))
	}
	if hits[0].ConversationID != first.ID || hits[0].Title != "billing" {
		t.Errorf("hit = %+v", hits[0])
	}

	hits, err = store.SearchTurns(ctx, "no such phrase anywhere", 10)
	if err != nil {
		t.Fatalf("SearchTurns: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits for a non-matching query", len(hits))
	}

	if hits, err := store.SearchTurns(ctx, "   ", 10); err != nil || hits != nil {
		t.Errorf("blank query = (%v, %v), want empty result", hits, err)
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := range 6 {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		if _, err := store.AppendTurn(ctx, conv.ID, role, "turn", nil); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := store.RecentTurns(ctx, conv.ID, 4)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	// Window keeps the newest turns, oldest first.
	if turns[0].Sequence != 3 || turns[3].Sequence != 6 {
		t.Errorf("window sequences = %d..%d, want 3..6", turns[0].Sequence, turns[3].Sequence)
	}
}
