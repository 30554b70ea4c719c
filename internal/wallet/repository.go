package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - wallets
// - wallet_ledger (immutable append-only)
// - wallet_balances (projection)
//
// It also assumes an idempotency constraint:
// UNIQUE (user_id, idempotency_key) on wallet_ledger.

func lockWallet(ctx context.Context, tx *sql.Tx, userID string) (Wallet, error) {
	// Lock the wallet row to serialize concurrent money operations per user.
	const q = `
SELECT user_id, currency, status, created_at, updated_at
FROM wallets
WHERE user_id = $1
FOR UPDATE
`
	var w Wallet
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&w.UserID,
		&w.Currency,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, currency, balance_minor, updated_at
FROM wallet_balances
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (Ledger, bool, error) {
	const q = `
SELECT id, user_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Ledger
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ledger{}, false, nil
		}
		return Ledger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e Ledger) error {
	const q = `
INSERT INTO wallet_ledger (
  id, user_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID, currency string, deltaMinor int64, now time.Time) (Balance, error) {
	// Upsert the balance row. Currency stays stable; the wallet lock plus
	// service-level currency check prevent mixed-currency rows.
	const q = `
INSERT INTO wallet_balances (user_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id)
DO UPDATE SET balance_minor = wallet_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, currency, balance_minor, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, currency, deltaMinor, now).Scan(
		&b.UserID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func listLedger(ctx context.Context, db *sql.DB, userID string, from, to time.Time) ([]Ledger, error) {
	const q = `
SELECT id, user_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM wallet_ledger
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ledger
	for rows.Next() {
		var e Ledger
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Type,
			&e.AmountMinor,
			&e.Currency,
			&e.ExternalRef,
			&e.IdempotencyKey,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
