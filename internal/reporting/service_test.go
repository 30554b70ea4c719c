package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/wallet"
)

func TestEarningsSummary_AggregatesReaderSessions(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []session.Session{
		{ID: "s1", ReaderID: "r1", ClientID: "c1", Mode: session.ModeVideo, Currency: "USD",
			Status: session.StatusEnded, BilledSeconds: 90, AmountChargedMinor: 300, RequestedAt: now},
		{ID: "s2", ReaderID: "r1", ClientID: "c2", Mode: session.ModeAudio, Currency: "USD",
			Status: session.StatusEndedInsufficientFunds, BilledSeconds: 120, AmountChargedMinor: 400, RequestedAt: now},
		{ID: "s3", ReaderID: "r1", ClientID: "c3", Mode: session.ModeVideo, Currency: "USD",
			Status: session.StatusCancelled, RequestedAt: now},
		// r1 as a client: spend, not earnings
		{ID: "s4", ReaderID: "r2", ClientID: "r1", Mode: session.ModeVideo, Currency: "USD",
			Status: session.StatusEnded, BilledSeconds: 60, AmountChargedMinor: 500, RequestedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.EarningsSummary(context.Background(), EarningsSummaryRequest{
		ReaderID: "r1",
		Range:    TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 3 {
		t.Fatalf("expected 3 sessions, got %d", out.TotalSessions)
	}
	if out.CompletedSessions != 1 || out.FundsExhaustedSessions != 1 || out.CancelledSessions != 1 {
		t.Fatalf("unexpected status counts: %+v", out)
	}
	if out.TotalEarnedMinor != 700 {
		t.Fatalf("expected earned 700, got %d", out.TotalEarnedMinor)
	}
	if out.TotalBilledSeconds != 210 || out.TotalBilledMinutes != 4 {
		t.Fatalf("unexpected billed time: %+v", out)
	}
	if out.Currency != "USD" {
		t.Fatalf("expected USD, got %s", out.Currency)
	}
}

func TestEarningsSummary_ModeFilter(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Sessions = []session.Session{
		{ID: "s1", ReaderID: "r1", ClientID: "c1", Mode: session.ModeVideo, Currency: "USD",
			Status: session.StatusEnded, AmountChargedMinor: 300, RequestedAt: now},
		{ID: "s2", ReaderID: "r1", ClientID: "c2", Mode: session.ModeChat, Currency: "USD",
			Status: session.StatusEnded, AmountChargedMinor: 100, RequestedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.EarningsSummary(context.Background(), EarningsSummaryRequest{
		ReaderID: "r1",
		Mode:     "chat",
		Range:    TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalSessions != 1 || out.TotalEarnedMinor != 100 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}

func TestSpendSummary_Aggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Ledgers = []wallet.Ledger{
		{ID: "l1", UserID: "c1", Currency: "USD", AmountMinor: 1000, ExternalRef: "stripe_topup", CreatedAt: now},
		{ID: "l2", UserID: "c1", Currency: "USD", AmountMinor: -200, ExternalRef: "session_billing", CreatedAt: now},
		{ID: "l3", UserID: "c1", Currency: "USD", AmountMinor: -50, ExternalRef: "session_billing", CreatedAt: now},
		{ID: "l4", UserID: "c1", Currency: "USD", AmountMinor: 25, ExternalRef: "admin_manual_credit", CreatedAt: now},
		// another client's ledger must not bleed in
		{ID: "l5", UserID: "c2", Currency: "USD", AmountMinor: -400, ExternalRef: "session_billing", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{
		ClientID: "c1",
		Range:    TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDebitMinor != 250 {
		t.Fatalf("expected total debit 250, got %d", out.TotalDebitMinor)
	}
	if out.TotalCreditMinor != 1025 {
		t.Fatalf("expected total credit 1025, got %d", out.TotalCreditMinor)
	}
	if out.NetDeltaMinor != 775 {
		t.Fatalf("expected net 775, got %d", out.NetDeltaMinor)
	}
	if out.SessionDebitMinor != 250 || out.AdminAdjustMinor != 25 {
		t.Fatalf("unexpected categorization: %+v", out)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	_, err := svc.EarningsSummary(context.Background(), EarningsSummaryRequest{
		ReaderID: "r1",
		Range:    TimeRange{From: now, To: now},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.SpendSummary(context.Background(), SpendSummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
