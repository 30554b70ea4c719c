package rates

import (
	"context"
	"time"

	"reading-platform/internal/session"
)

// SessionRateSource adapts the rate service to the shape the session
// workflow expects when snapshotting a rate at request time.
type SessionRateSource struct {
	Svc *Service
}

func (a SessionRateSource) Quote(ctx context.Context, readerID string, mode session.Mode, at time.Time) (session.RateQuote, error) {
	card, err := a.Svc.Resolve(ctx, readerID, string(mode), at)
	if err != nil {
		return session.RateQuote{}, err
	}
	return session.RateQuote{
		RatePerMinuteMinor: card.RatePerMinuteMinor,
		Currency:           card.Currency,
	}, nil
}
