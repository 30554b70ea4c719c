package wallet

import "time"

// Wallet is a user's prepaid balance container. One wallet per user; the
// wallet id IS the owning user id.
//
// Invariant: available balance must be derived from immutable ledger entries.
// No code should ever mutate a "balance" without writing a corresponding
// ledger entry, and the balance can never go negative: debits are
// check-and-decrement inside one transaction.
type Wallet struct {
	UserID   string `json:"user_id" db:"user_id"`
	Currency string `json:"currency" db:"currency"`

	// Operational flag only (do not encode money state here).
	Status WalletStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// Ledger is an immutable append-only entry. Each row represents a credit or
// debit posted to the wallet. Credits are positive, debits negative.
//
// Money invariant: any balance change MUST have a corresponding ledger entry.
type Ledger struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef links the entry to its cause: a session id for billing
	// ticks, "admin_manual_credit" for privileged top-ups.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey makes money-posting operations safe to retry. The
	// billing loop uses one key per tick so a replayed interval never
	// debits twice.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, adjustment
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // billing tick
)
