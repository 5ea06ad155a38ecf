package memory

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		err := s.SaveTurn(ctx, TurnRecord{UserID: "u1", DeviceID: "dev-1", Role: "user", Content: content})
		if err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.RecentContext(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentContext() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "second" || got[1].Content != "third" {
		t.Fatalf("unexpected order: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestInMemoryStoreUnknownUser(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.RecentContext(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatalf("RecentContext() error = %v", err)
	}
	if got != nil {
		t.Fatalf("RecentContext() = %v, want nil", got)
	}
}
