package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{SessionID: "s"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogTransition(context.Background(), "sess-1", "requested", "accepted", "reader-1", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogAdminAction(context.Background(), "admin-1", "admin", "manual credit", "wallet-1", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeSessionTransition || evs[0].ToStatus != "accepted" {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be filled")
	}
	if evs[1].Type != EventTypeAdminAction || evs[1].WalletID != "wallet-1" {
		t.Fatalf("unexpected second event: %+v", evs[1])
	}
}
