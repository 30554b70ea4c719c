package rates

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service resolves the effective rate card for a reader and mode.
//
// Contract:
//   - Lookup only; the session record snapshots the resolved rate at request
//     time, so later card changes never affect an in-flight session.
//   - Pure calculation + repository lookups.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrRateNotFound   = errors.New("rate card not found")
	ErrInvalidRateReq = errors.New("invalid rate request")
)

// Resolve returns the effective card for the reader and mode at the given
// time. A zero `at` uses the service clock.
func (s *Service) Resolve(ctx context.Context, readerID, mode string, at time.Time) (RateCard, error) {
	if readerID == "" || mode == "" {
		return RateCard{}, ErrInvalidRateReq
	}

	if at.IsZero() {
		at = s.clock().UTC()
	}

	card, ok, err := s.repo.FindRateCard(ctx, readerID, mode, at)
	if err != nil {
		return RateCard{}, err
	}
	if !ok {
		return RateCard{}, ErrRateNotFound
	}
	return card, nil
}

// Publish stores a new card effective from the given time (zero means now).
// Existing cards stay untouched; Resolve prefers the most recent effective
// card, so publishing supersedes without mutation.
func (s *Service) Publish(ctx context.Context, c RateCard) (RateCard, error) {
	if c.ReaderID == "" || c.Mode == "" || c.RatePerMinuteMinor <= 0 || len(c.Currency) != 3 {
		return RateCard{}, ErrInvalidRateReq
	}
	now := s.clock().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.EffectiveFrom.IsZero() {
		c.EffectiveFrom = now
	}
	if c.EffectiveTo != nil && !c.EffectiveTo.After(c.EffectiveFrom) {
		return RateCard{}, ErrInvalidRateReq
	}
	c.Status = RateStatusActive
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.repo.Insert(ctx, c); err != nil {
		return RateCard{}, err
	}
	return c, nil
}

// RateRepository abstracts rate card persistence.
// Implementation can be Postgres, cached, etc.
type RateRepository interface {
	FindRateCard(ctx context.Context, readerID, mode string, at time.Time) (RateCard, bool, error)
	Insert(ctx context.Context, c RateCard) error
}
