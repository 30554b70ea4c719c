package wallet

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// These are true unit tests for wallet.Service input validation behavior.
//
// The money operations (Credit/Debit) are implemented with Postgres-specific
// SQL (notably SELECT ... FOR UPDATE), so end-to-end behavior (balance
// changes, insufficient funds, ledger inserts) is covered by integration
// tests against Postgres. The billing loop's funds-exhaustion behavior is
// unit-tested against a fake balance store in internal/billing.

func TestWalletService_Credit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Credit(context.Background(), "", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u", CreditRequest{AmountMinor: 0, Currency: "USD", IdempotencyKey: "k"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u", CreditRequest{AmountMinor: 100, Currency: "", IdempotencyKey: "k"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "u", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: ""})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_Debit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Debit(context.Background(), "", DebitRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Debit(context.Background(), "u", DebitRequest{AmountMinor: -1, Currency: "USD", IdempotencyKey: "k"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWalletService_AdminManualCredit_RejectsMissingActor(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.AdminManualCredit(context.Background(), "u", "", "admin", CreditRequest{
		AmountMinor:    100,
		Currency:       "USD",
		IdempotencyKey: "k",
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument (missing admin user), got %v", err)
	}

	_, _, err = svc.AdminManualCredit(context.Background(), "u", "admin-1", "", CreditRequest{
		AmountMinor:    100,
		Currency:       "USD",
		IdempotencyKey: "k",
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument (missing admin role), got %v", err)
	}
}
