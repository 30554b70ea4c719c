package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reading-platform/internal/rbac"

	"github.com/google/uuid"
)

var (
	// ErrInvalidState: transition attempted from the wrong or a terminal
	// status. Non-retryable; the store is left untouched.
	ErrInvalidState = errors.New("invalid session state")

	// ErrForbidden: the caller is not the participant the transition is
	// reserved for.
	ErrForbidden = errors.New("forbidden")

	ErrInvalidRequest = errors.New("invalid session request")
)

// Principal is the already-authenticated caller identity resolved by
// internal/auth. The state machine never sees credentials.
type Principal struct {
	UserID string
	Role   string
}

// SystemPrincipal marks internal callers (billing loop, grace-expiry
// teardown) that are allowed to drive active sessions to terminal states.
var SystemPrincipal = Principal{UserID: "system", Role: rbac.RoleAdmin}

// Profile is the denormalizable display shape of a user.
type Profile struct {
	DisplayName string
	AvatarURL   string
}

// ProfileSource resolves participant profiles at request time.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// RateQuote is the snapshot taken from a reader's rate card.
type RateQuote struct {
	RatePerMinuteMinor int64
	Currency           string
}

// RateSource resolves the effective per-minute rate for a reader and mode.
type RateSource interface {
	Quote(ctx context.Context, readerID string, mode Mode, at time.Time) (RateQuote, error)
}

// Auditor records transitions. Best-effort: failures are logged, never
// propagated into the state machine.
type Auditor interface {
	Transition(ctx context.Context, sessionID string, from, to Status, actorID, reason string)
}

// Service is the call state machine. Every transition is one atomic CAS
// against the store; re-issuing a transition whose target state is already
// reached returns the current session without re-writing timestamps.
type Service struct {
	store    Store
	rates    RateSource
	profiles ProfileSource
	auditor  Auditor
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(store Store, rates RateSource, profiles ProfileSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		rates:    rates,
		profiles: profiles,
		log:      log,
		clock:    time.Now,
	}
}

// SetAuditor attaches a transition auditor. Optional.
func (s *Service) SetAuditor(a Auditor) { s.auditor = a }

// Request creates a new session in `requested`, snapshotting the reader's
// current rate for the chosen mode. Only clients request readings.
func (s *Service) Request(ctx context.Context, caller Principal, readerID string, mode Mode) (Session, error) {
	if caller.UserID == "" || readerID == "" {
		return Session{}, ErrInvalidRequest
	}
	if caller.UserID == readerID {
		return Session{}, ErrInvalidRequest
	}
	if caller.Role != rbac.RoleClient && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	if !ValidMode(mode) {
		return Session{}, ErrInvalidRequest
	}

	now := s.clock().UTC()

	quote, err := s.rates.Quote(ctx, readerID, mode, now)
	if err != nil {
		return Session{}, fmt.Errorf("rate lookup: %w", err)
	}

	readerProfile, err := s.profiles.GetProfile(ctx, readerID)
	if err != nil {
		return Session{}, fmt.Errorf("reader profile: %w", err)
	}
	clientProfile, err := s.profiles.GetProfile(ctx, caller.UserID)
	if err != nil {
		return Session{}, fmt.Errorf("client profile: %w", err)
	}

	sess := Session{
		ID:                 uuid.NewString(),
		ReaderID:           readerID,
		ClientID:           caller.UserID,
		ReaderName:         readerProfile.DisplayName,
		ReaderAvatar:       readerProfile.AvatarURL,
		ClientName:         clientProfile.DisplayName,
		ClientAvatar:       clientProfile.AvatarURL,
		Mode:               mode,
		RatePerMinuteMinor: quote.RatePerMinuteMinor,
		Currency:           quote.Currency,
		Status:             StatusRequested,
		RequestedAt:        now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}

	s.audit(ctx, sess.ID, "", StatusRequested, caller.UserID, "")
	s.log.Info("session requested",
		"session_id", sess.ID, "reader_id", readerID, "client_id", caller.UserID,
		"mode", mode, "rate_minor", quote.RatePerMinuteMinor)
	return sess, nil
}

// Accept moves requested -> accepted. Only the assigned reader may accept.
func (s *Service) Accept(ctx context.Context, caller Principal, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if caller.UserID != sess.ReaderID && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	// Idempotent retry: already accepted means the transition succeeded before.
	if sess.Status == StatusAccepted {
		return sess, nil
	}
	if sess.Status != StatusRequested {
		return Session{}, ErrInvalidState
	}

	out, err := s.store.CompareAndSwapStatus(ctx, id, StatusRequested, StatusAccepted, StatusFields{})
	if err != nil {
		// Lost a concurrent race after our read: exactly one accept wins.
		return Session{}, s.casErr(ctx, id, StatusAccepted, err)
	}

	s.audit(ctx, id, StatusRequested, StatusAccepted, caller.UserID, "")
	s.log.Info("session accepted", "session_id", id, "reader_id", caller.UserID)
	return out, nil
}

// Start moves accepted -> active and stamps StartedAt with server time.
// Triggered by the first successful peer connection (or an explicit start
// from either participant).
func (s *Service) Start(ctx context.Context, caller Principal, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.Participant(caller.UserID) && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	if sess.Status == StatusActive {
		return sess, nil
	}
	if sess.Status != StatusAccepted {
		return Session{}, ErrInvalidState
	}

	now := s.clock().UTC()
	out, err := s.store.CompareAndSwapStatus(ctx, id, StatusAccepted, StatusActive, StatusFields{StartedAt: &now})
	if err != nil {
		return Session{}, s.casErr(ctx, id, StatusActive, err)
	}

	s.audit(ctx, id, StatusAccepted, StatusActive, caller.UserID, "")
	s.log.Info("session started", "session_id", id, "started_at", now)
	return out, nil
}

// End moves active -> ended (participant hangup, grace expiry, admin stop).
// The billing loop uses EndInsufficientFunds instead.
func (s *Service) End(ctx context.Context, caller Principal, id, reason string) (Session, error) {
	return s.endAs(ctx, caller, id, StatusEnded, reason)
}

// EndInsufficientFunds moves active -> ended_insufficient_funds. Reserved for
// the billing loop, which calls it with the system principal when a debit
// would exceed the available balance.
func (s *Service) EndInsufficientFunds(ctx context.Context, id string) (Session, error) {
	return s.endAs(ctx, SystemPrincipal, id, StatusEndedInsufficientFunds, "insufficient_funds")
}

func (s *Service) endAs(ctx context.Context, caller Principal, id string, terminal Status, reason string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.Participant(caller.UserID) && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	if sess.Status == terminal {
		return sess, nil
	}
	if sess.Status != StatusActive {
		return Session{}, ErrInvalidState
	}

	now := s.clock().UTC()
	out, err := s.store.CompareAndSwapStatus(ctx, id, StatusActive, terminal, StatusFields{EndedAt: &now, EndReason: reason})
	if err != nil {
		return Session{}, s.casErr(ctx, id, terminal, err)
	}

	s.audit(ctx, id, StatusActive, terminal, caller.UserID, reason)
	s.log.Info("session ended", "session_id", id, "status", terminal, "reason", reason)
	return out, nil
}

// Cancel moves requested -> cancelled. The requesting client may withdraw, or
// the assigned reader may decline.
func (s *Service) Cancel(ctx context.Context, caller Principal, id, reason string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.Participant(caller.UserID) && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	if sess.Status == StatusCancelled {
		return sess, nil
	}
	if sess.Status != StatusRequested {
		return Session{}, ErrInvalidState
	}

	now := s.clock().UTC()
	out, err := s.store.CompareAndSwapStatus(ctx, id, StatusRequested, StatusCancelled, StatusFields{EndedAt: &now, EndReason: reason})
	if err != nil {
		return Session{}, s.casErr(ctx, id, StatusCancelled, err)
	}

	s.audit(ctx, id, StatusRequested, StatusCancelled, caller.UserID, reason)
	s.log.Info("session cancelled", "session_id", id, "reason", reason)
	return out, nil
}

// Get returns the session, restricted to participants (or admin).
func (s *Service) Get(ctx context.Context, caller Principal, id string) (Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.Participant(caller.UserID) && !rbac.IsAdmin(caller.Role) {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

// casErr maps a store CAS failure. A concurrent racer that already reached
// the target state does NOT count as success here: exactly one caller wins a
// race; only a later retry observes the reached state as idempotent success.
func (s *Service) casErr(ctx context.Context, id string, target Status, err error) error {
	if errors.Is(err, ErrConflict) {
		s.log.Warn("session transition lost race", "session_id", id, "target", target)
		return ErrInvalidState
	}
	return err
}

func (s *Service) audit(ctx context.Context, id string, from, to Status, actorID, reason string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Transition(ctx, id, from, to, actorID, reason)
}
