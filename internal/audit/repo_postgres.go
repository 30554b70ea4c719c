package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table.
// The table is INSERT-only; nothing in this repo can mutate a row.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (p *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, session_id, wallet_id,
  from_status, to_status, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := p.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.SessionID,
		e.WalletID,
		e.FromStatus,
		e.ToStatus,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
