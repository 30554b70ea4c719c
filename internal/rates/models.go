package rates

import "time"

// Rate cards are per reader, per session mode. Amounts are expressed in
// minor units (e.g., cents) using int64.

// RateCard defines a reader's advertised per-minute rate for one mode.
type RateCard struct {
	ID       string `json:"id" db:"id"`
	ReaderID string `json:"reader_id" db:"reader_id"`

	// Mode examples: video, audio, chat.
	Mode string `json:"mode" db:"mode"`

	Currency string `json:"currency" db:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`

	// Effective window for the card. A reader changing their price gets a
	// new card; sessions already in flight keep the rate snapshotted at
	// request time.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status RateStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)
