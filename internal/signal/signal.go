package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Signaling fans call-control messages out to the participants of a session
// room. Delivery is at-least-once; consumers suppress duplicates by message
// ID. Ordering within one publisher is preserved, cross-publisher ordering is
// not guaranteed.

// ErrChannelUnavailable means the transport under the channel is down or the
// subscription has been closed. Callers surface it instead of retrying
// silently.
var ErrChannelUnavailable = errors.New("signaling channel unavailable")

// Kind discriminates envelope payloads.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindHangup    Kind = "hangup"
	KindChat      Kind = "chat"
	// KindBye announces a participant leaving the room without ending the
	// session (e.g. page refresh inside the reconnect grace period).
	KindBye Kind = "bye"
)

func ValidKind(k Kind) bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindHangup, KindChat, KindBye:
		return true
	default:
		return false
	}
}

// Envelope is one signaling message. Payload stays opaque to the relay;
// only the edges (peer manager, chat) interpret it.
type Envelope struct {
	ID      string          `json:"id"`
	RoomID  string          `json:"room_id"`
	From    string          `json:"from"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

func (e Envelope) valid() bool {
	return e.ID != "" && e.RoomID != "" && e.From != "" && ValidKind(e.Kind)
}

// Subscription is one receiver's attachment to a room.
type Subscription interface {
	// C yields envelopes for the room, duplicates already suppressed.
	// The channel closes when the subscription closes.
	C() <-chan Envelope
	Close() error
}

// Channel is the signaling transport. Implementations: RedisChannel for
// multi-instance deployments, MemoryChannel for tests and single-process
// runs.
type Channel interface {
	Join(ctx context.Context, roomID string) (Subscription, error)
	Send(ctx context.Context, e Envelope) error
}

// seenWindow is a bounded set of recently observed message IDs, used for
// per-subscription duplicate suppression.
type seenWindow struct {
	order []string
	set   map[string]struct{}
	cap   int
}

func newSeenWindow(capacity int) *seenWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &seenWindow{
		set: make(map[string]struct{}, capacity),
		cap: capacity,
	}
}

// observe records id and reports whether it was already present.
func (w *seenWindow) observe(id string) bool {
	if _, ok := w.set[id]; ok {
		return true
	}
	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	w.order = append(w.order, id)
	w.set[id] = struct{}{}
	return false
}
