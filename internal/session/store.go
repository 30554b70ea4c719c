package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the session id does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned by CompareAndSwapStatus when the stored status
	// does not match the expected one. The service layer translates it into
	// ErrInvalidState after re-checking for idempotent retries.
	ErrConflict = errors.New("session status conflict")

	// ErrTerminal is returned by IncrementBilling when the session has
	// already reached a terminal status.
	ErrTerminal = errors.New("session is terminal")
)

// StatusFields carries the extra columns written together with a status CAS.
// Nil pointers leave the stored value untouched (timestamps are write-once).
type StatusFields struct {
	StartedAt *time.Time
	EndedAt   *time.Time
	EndReason string
}

// Store is the durable Session Record Store. It is the single source of truth
// for session state; every status transition goes through CompareAndSwapStatus
// as one indivisible read-validate-write, and only the billing loop calls
// IncrementBilling.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)

	// CompareAndSwapStatus atomically moves id from expected to next and
	// applies extra. Returns ErrConflict (no state change) when the stored
	// status differs from expected, ErrNotFound when absent.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next Status, extra StatusFields) (Session, error)

	// IncrementBilling adds secondsDelta/amountDelta to the billing
	// accumulators. Fails with ErrTerminal once the session is terminal.
	IncrementBilling(ctx context.Context, id string, secondsDelta int, amountDeltaMinor int64) (Session, error)

	// ListByParticipant returns sessions where userID is reader or client,
	// with RequestedAt inside [from, to). Used by reporting.
	ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Session, error)
}
