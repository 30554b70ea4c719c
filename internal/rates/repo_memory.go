package rates

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	Cards []RateCard
}

func (r *MemoryRepo) FindRateCard(ctx context.Context, readerID, mode string, at time.Time) (RateCard, bool, error) {
	_ = ctx

	// Prefer the most recent effective card.
	var best RateCard
	found := false

	for _, c := range r.Cards {
		if c.ReaderID != readerID {
			continue
		}
		if c.Mode != mode {
			continue
		}
		if c.Status != RateStatusActive {
			continue
		}
		if at.Before(c.EffectiveFrom) {
			continue
		}
		if c.EffectiveTo != nil && !at.Before(*c.EffectiveTo) {
			continue
		}

		if !found || c.EffectiveFrom.After(best.EffectiveFrom) {
			best = c
			found = true
		}
	}

	return best, found, nil
}

func (r *MemoryRepo) Insert(ctx context.Context, c RateCard) error {
	_ = ctx
	r.Cards = append(r.Cards, c)
	return nil
}
