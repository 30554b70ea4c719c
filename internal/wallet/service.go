package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"reading-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service provides prepaid balance operations.
//
// Money invariants:
//   - No balance updates without a ledger entry
//   - Ledger is append-only (immutable)
//   - All money operations execute in a DB transaction
//   - A debit that would drive the balance negative never commits; it fails
//     with ErrInsufficientFunds and the billing loop forces session termination
//
// Balance strategy:
//   - Balance is stored in a projection table (wallet_balances) updated
//     atomically alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type Balance struct {
	UserID       string    `json:"user_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

type DebitRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (Ledger, Balance, error) {
	if err := validateMoneyReq(userID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return Ledger{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger Ledger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Ensure wallet exists + currency matches.
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		// Idempotency: a replayed credit returns the prior entry and balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := Ledger{
			ID:             ledgerID,
			UserID:         userID,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, userID, req.Currency, req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

func (s *Service) Debit(ctx context.Context, userID string, req DebitRequest) (Ledger, Balance, error) {
	if err := validateMoneyReq(userID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return Ledger{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger Ledger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w.Currency != req.Currency {
			return ErrInvalidArgument
		}

		// Idempotency: a replayed billing tick must not debit twice.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		// Check-before-debit on the locked projection row.
		b, err := getBalanceForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if b.Currency != req.Currency {
			return ErrInvalidArgument
		}
		if b.BalanceMinor < req.AmountMinor {
			return ErrInsufficientFunds
		}

		entry := Ledger{
			ID:             ledgerID,
			UserID:         userID,
			Type:           LedgerEntryTypeDebit,
			AmountMinor:    -req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		out, err := applyBalanceDelta(ctx, tx, userID, req.Currency, -req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = out
		return nil
	})

	return outLedger, outBal, err
}

// AdminManualCredit performs a privileged top-up. The caller is responsible
// for RBAC; the audit trail is written by the HTTP layer.
func (s *Service) AdminManualCredit(ctx context.Context, userID, adminUserID, adminRole string, req CreditRequest) (Ledger, Balance, error) {
	if adminUserID == "" || adminRole == "" {
		return Ledger{}, Balance{}, ErrInvalidArgument
	}
	req.ExternalRef = "admin_manual_credit"
	return s.Credit(ctx, userID, req)
}

// ListLedger returns ledger entries for reporting, oldest first.
func (s *Service) ListLedger(ctx context.Context, userID string, from, to time.Time) ([]Ledger, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return listLedger(ctx, s.db, userID, from, to)
}

func validateMoneyReq(userID string, amountMinor int64, currency, idempotencyKey string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
