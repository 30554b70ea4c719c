package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// EarningsSummaryRequest requests aggregated earnings for one reader.
// Earnings are derived from the immutable billing accumulators on session
// records, never recomputed from durations.

type EarningsSummaryRequest struct {
	ReaderID string    `json:"reader_id"`
	Range    TimeRange `json:"range"`

	// Mode optionally narrows to one session mode (video, audio, chat).
	Mode string `json:"mode,omitempty"`
}

type EarningsSummary struct {
	ReaderID string `json:"reader_id"`
	Currency string `json:"currency"`

	TotalSessions          int `json:"total_sessions"`
	CompletedSessions      int `json:"completed_sessions"`
	CancelledSessions      int `json:"cancelled_sessions"`
	FundsExhaustedSessions int `json:"funds_exhausted_sessions"`

	TotalBilledSeconds   int   `json:"total_billed_seconds"`
	TotalBilledMinutes   int   `json:"total_billed_minutes"`
	AverageBilledSeconds int   `json:"average_billed_seconds"`
	TotalEarnedMinor     int64 `json:"total_earned_minor"`
}

// SpendSummaryRequest requests aggregated spend metrics for one client.
// Spend is derived from immutable wallet ledger entries.

type SpendSummaryRequest struct {
	ClientID string    `json:"client_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	ClientID string `json:"client_id"`
	Currency string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	SessionDebitMinor int64 `json:"session_debit_minor"`
	AdminAdjustMinor  int64 `json:"admin_adjust_minor"`
}
