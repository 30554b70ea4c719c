package reporting

import (
	"context"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/wallet"
)

// SessionLister is satisfied by the session store.
type SessionLister interface {
	ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error)
}

// LedgerLister is satisfied by the wallet service.
type LedgerLister interface {
	ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error)
}

// PlatformRepo backs reporting with the live session store and wallet ledger.
type PlatformRepo struct {
	Sessions SessionLister
	Wallet   LedgerLister
}

func (r *PlatformRepo) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error) {
	return r.Sessions.ListByParticipant(ctx, userID, from, to)
}

func (r *PlatformRepo) ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error) {
	return r.Wallet.ListLedger(ctx, userID, from, to)
}
