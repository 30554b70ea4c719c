package session

import "time"

// Session represents one billed reader-client interaction.
//
// Economics invariant: RatePerMinuteMinor is snapshotted at request time and
// never mutated afterwards; rate card changes affect future sessions only.
// AmountChargedMinor always equals ChargeForSeconds(BilledSeconds, rate) and
// only the billing loop writes the billing fields.
//
// Status invariant: transitions are monotonic along the defined graph; no
// transition ever leaves a terminal status. StartedAt is set at most once.
type Session struct {
	ID string `json:"id" db:"id"`

	ReaderID string `json:"reader_id" db:"reader_id"`
	ClientID string `json:"client_id" db:"client_id"`

	// Denormalized participant profiles so session views need no extra lookups.
	ReaderName   string `json:"reader_name" db:"reader_name"`
	ReaderAvatar string `json:"reader_avatar,omitempty" db:"reader_avatar"`
	ClientName   string `json:"client_name" db:"client_name"`
	ClientAvatar string `json:"client_avatar,omitempty" db:"client_avatar"`

	Mode Mode `json:"mode" db:"mode"`

	// RatePerMinuteMinor is the per-minute price in minor units (cents),
	// snapshotted from the reader's rate card at request time.
	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string `json:"currency" db:"currency"`

	BilledSeconds      int   `json:"billed_seconds" db:"billed_seconds"`
	AmountChargedMinor int64 `json:"amount_charged_minor" db:"amount_charged_minor"`

	Status Status `json:"status" db:"status"`

	// EndReason explains terminal transitions ("hangup", "insufficient_funds",
	// "connection_lost", "admin"). Empty for non-terminal statuses.
	EndReason string `json:"end_reason,omitempty" db:"end_reason"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type Mode string

const (
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
	ModeChat  Mode = "chat"
)

func ValidMode(m Mode) bool {
	switch m {
	case ModeVideo, ModeAudio, ModeChat:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusRequested              Status = "requested"
	StatusAccepted               Status = "accepted"
	StatusActive                 Status = "active"
	StatusEnded                  Status = "ended"
	StatusCancelled              Status = "cancelled"
	StatusEndedInsufficientFunds Status = "ended_insufficient_funds"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusCancelled, StatusEndedInsufficientFunds:
		return true
	default:
		return false
	}
}

// transitions is the only legal edge set of the session state machine.
var transitions = map[Status][]Status{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusActive},
	StatusActive:    {StatusEnded, StatusEndedInsufficientFunds},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChargeForSeconds is the platform rounding rule: total charge for a session
// of the given billed length, rounded UP to the smallest currency unit.
// Per-tick deltas are computed as differences of this total so the invariant
// AmountChargedMinor == ChargeForSeconds(BilledSeconds, rate) holds exactly
// with no per-tick drift.
func ChargeForSeconds(seconds int, ratePerMinuteMinor int64) int64 {
	if seconds <= 0 || ratePerMinuteMinor <= 0 {
		return 0
	}
	n := int64(seconds) * ratePerMinuteMinor
	return (n + 59) / 60
}

// BilledMinutes is the displayed whole-minute figure, rounded up.
func (s Session) BilledMinutes() int {
	if s.BilledSeconds <= 0 {
		return 0
	}
	return (s.BilledSeconds + 59) / 60
}

// RemainingSeconds computes how long the given balance keeps the session
// running at the snapshotted rate. It is always recomputed from the
// authoritative balance/rate pair, never tracked separately.
func (s Session) RemainingSeconds(balanceMinor int64) int64 {
	if balanceMinor <= 0 || s.RatePerMinuteMinor <= 0 {
		return 0
	}
	return balanceMinor * 60 / s.RatePerMinuteMinor
}

// Participant reports whether userID is the session's reader or client.
func (s Session) Participant(userID string) bool {
	return userID != "" && (userID == s.ReaderID || userID == s.ClientID)
}

// Room is the signaling room id for this session.
func (s Session) Room() string { return "session:" + s.ID }
