package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces per-user filtering on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Sessions []session.Session
	Ledgers  []wallet.Ledger
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Session, 0)
	for _, s := range r.Sessions {
		if !s.Participant(userID) {
			continue
		}
		if !s.RequestedAt.IsZero() {
			if s.RequestedAt.Before(from) || !s.RequestedAt.Before(to) {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepo) ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.Ledger, 0)
	for _, l := range r.Ledgers {
		if l.UserID != userID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}
