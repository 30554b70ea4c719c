package reporting

import (
	"context"
	"errors"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce per-user filtering.
// - Implementations should query immutable sources (session billing
//   accumulators, wallet ledger).

type Repository interface {
	ListSessions(ctx context.Context, userID string, from, to time.Time) ([]session.Session, error)
	ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) EarningsSummary(ctx context.Context, req EarningsSummaryRequest) (EarningsSummary, error) {
	if req.ReaderID == "" {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return EarningsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.ReaderID, req.Range.From, req.Range.To)
	if err != nil {
		return EarningsSummary{}, err
	}

	out := EarningsSummary{ReaderID: req.ReaderID}
	for _, sess := range rows {
		if sess.ReaderID != req.ReaderID {
			// the participant listing also returns sessions where the user
			// was the client; those are spend, not earnings
			continue
		}
		if req.Mode != "" && string(sess.Mode) != req.Mode {
			continue
		}
		out.TotalSessions++
		out.TotalBilledSeconds += sess.BilledSeconds
		out.TotalBilledMinutes += sess.BilledMinutes()
		out.TotalEarnedMinor += sess.AmountChargedMinor
		if out.Currency == "" && sess.Currency != "" {
			out.Currency = sess.Currency
		}

		switch sess.Status {
		case session.StatusEnded:
			out.CompletedSessions++
		case session.StatusCancelled:
			out.CancelledSessions++
		case session.StatusEndedInsufficientFunds:
			out.FundsExhaustedSessions++
		}
	}
	if out.TotalSessions > 0 {
		out.AverageBilledSeconds = out.TotalBilledSeconds / out.TotalSessions
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.ClientID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	ledgers, err := s.repo.ListLedger(ctx, req.ClientID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{ClientID: req.ClientID, Currency: req.Currency}
	for _, l := range ledgers {
		// currency normalization: if request specified currency, filter; else populate from first row.
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if req.Currency != "" && l.Currency != req.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		switch l.ExternalRef {
		case "session_billing":
			if l.AmountMinor < 0 {
				out.SessionDebitMinor += -l.AmountMinor
			}
		case "admin_manual_credit":
			out.AdminAdjustMinor += l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
