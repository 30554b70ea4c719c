package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists sessions in the `sessions` table.
//
// CAS strategy: every transition is a single conditional UPDATE
// (`... WHERE id = $1 AND status = $expected`), so concurrent transitions
// resolve to exactly one winner without explicit row locks. Timestamps use
// COALESCE so they are write-once even under retried CAS calls.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `
id, reader_id, client_id, reader_name, reader_avatar, client_name, client_avatar,
mode, rate_per_minute_minor, currency, billed_seconds, amount_charged_minor,
status, end_reason, requested_at, started_at, ended_at
`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var endReason sql.NullString
	var startedAt, endedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.ReaderID,
		&s.ClientID,
		&s.ReaderName,
		&s.ReaderAvatar,
		&s.ClientName,
		&s.ClientAvatar,
		&s.Mode,
		&s.RatePerMinuteMinor,
		&s.Currency,
		&s.BilledSeconds,
		&s.AmountChargedMinor,
		&s.Status,
		&endReason,
		&s.RequestedAt,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if endReason.Valid {
		s.EndReason = endReason.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	const q = `
INSERT INTO sessions (
  id, reader_id, client_id, reader_name, reader_avatar, client_name, client_avatar,
  mode, rate_per_minute_minor, currency, billed_seconds, amount_charged_minor,
  status, requested_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err := p.db.ExecContext(ctx, q,
		s.ID,
		s.ReaderID,
		s.ClientID,
		s.ReaderName,
		s.ReaderAvatar,
		s.ClientName,
		s.ClientAvatar,
		s.Mode,
		s.RatePerMinuteMinor,
		s.Currency,
		s.BilledSeconds,
		s.AmountChargedMinor,
		s.Status,
		s.RequestedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (p *PostgresStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next Status, extra StatusFields) (Session, error) {
	const q = `
UPDATE sessions
SET status = $3,
    started_at = COALESCE(started_at, $4),
    ended_at = COALESCE(ended_at, $5),
    end_reason = CASE WHEN $6 <> '' THEN $6 ELSE end_reason END
WHERE id = $1 AND status = $2
RETURNING ` + sessionColumns
	var startedAt, endedAt any
	if extra.StartedAt != nil {
		startedAt = *extra.StartedAt
	}
	if extra.EndedAt != nil {
		endedAt = *extra.EndedAt
	}

	s, err := scanSession(p.db.QueryRowContext(ctx, q, id, expected, next, startedAt, endedAt, extra.EndReason))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	// No row matched: distinguish a missing session from a status mismatch.
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return Session{}, getErr
	}
	return Session{}, ErrConflict
}

func (p *PostgresStore) IncrementBilling(ctx context.Context, id string, secondsDelta int, amountDeltaMinor int64) (Session, error) {
	const q = `
UPDATE sessions
SET billed_seconds = billed_seconds + $2,
    amount_charged_minor = amount_charged_minor + $3
WHERE id = $1 AND status NOT IN ('ended', 'cancelled', 'ended_insufficient_funds')
RETURNING ` + sessionColumns

	s, err := scanSession(p.db.QueryRowContext(ctx, q, id, secondsDelta, amountDeltaMinor))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return Session{}, getErr
	}
	return Session{}, ErrTerminal
}

func (p *PostgresStore) ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE (reader_id = $1 OR client_id = $1)
  AND requested_at >= $2 AND requested_at < $3
ORDER BY requested_at
`
	rows, err := p.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetProfile reads a user's denormalizable display fields from the users
// table owned by the (out of scope) account system.
func (p *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	const q = `SELECT display_name, COALESCE(avatar_url, '') FROM users WHERE id = $1`
	var pr Profile
	if err := p.db.QueryRowContext(ctx, q, userID).Scan(&pr.DisplayName, &pr.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return pr, nil
}
