package rates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo persists rate cards in the rate_cards table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindRateCard(ctx context.Context, readerID, mode string, at time.Time) (RateCard, bool, error) {
	const q = `
SELECT id, reader_id, mode, currency, rate_per_minute_minor,
       effective_from, effective_to, status, created_at, updated_at
FROM rate_cards
WHERE reader_id = $1
  AND mode = $2
  AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1`

	var c RateCard
	err := r.db.QueryRowContext(ctx, q, readerID, mode, at).Scan(
		&c.ID, &c.ReaderID, &c.Mode, &c.Currency, &c.RatePerMinuteMinor,
		&c.EffectiveFrom, &c.EffectiveTo, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RateCard{}, false, nil
	}
	if err != nil {
		return RateCard{}, false, fmt.Errorf("find rate card: %w", err)
	}
	return c, true, nil
}

// Insert creates a new card. Price changes are new cards, not updates: the
// previous card's effective_to should be closed by the caller.
func (r *PostgresRepo) Insert(ctx context.Context, c RateCard) error {
	const q = `
INSERT INTO rate_cards
    (id, reader_id, mode, currency, rate_per_minute_minor,
     effective_from, effective_to, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.ReaderID, c.Mode, c.Currency, c.RatePerMinuteMinor,
		c.EffectiveFrom, c.EffectiveTo, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rate card: %w", err)
	}
	return nil
}
