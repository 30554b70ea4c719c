package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records one session state machine transition.
func (s *Service) LogTransition(ctx context.Context, sessionID, from, to, actorID, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeSessionTransition,
		ActorUserID: actorID,
		SessionID:   sessionID,
		FromStatus:  from,
		ToStatus:    to,
		Message:     reason,
	})
}

// LogBillingStop records a billing loop forcing a session to a terminal state.
func (s *Service) LogBillingStop(ctx context.Context, sessionID, reason, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeBillingStop,
		SessionID: sessionID,
		Message:   reason,
		Metadata:  metadata,
	})
}

// LogAdminAction records a privileged action (manual credit, forced end).
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, message, walletID, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		WalletID:    walletID,
		Message:     message,
		Metadata:    metadata,
	})
}
