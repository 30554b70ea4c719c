// Package chat relays text messages over the session's WebRTC data channel.
// Messages never touch the server in media sessions; the relay runs at each
// edge and the transport is peer-to-peer.
package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChannelUnavailable means the data channel is not open; the message was
// not sent and must not appear in local history.
var ErrChannelUnavailable = errors.New("chat channel unavailable")

const defaultHistoryCap = 200

// Message is one chat line. IsOwn is derived locally and never transmitted.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
	IsOwn      bool      `json:"-"`
}

// EventKind distinguishes relay callbacks.
type EventKind string

const (
	EventMessage EventKind = "message"
	// EventNotice is a local-only line, e.g. when an incoming frame could
	// not be decoded.
	EventNotice EventKind = "notice"
	EventClosed EventKind = "closed"
)

type Event struct {
	Kind    EventKind
	Message Message
	Notice  string
}

// Transport sends one encoded frame to the remote peer.
type Transport interface {
	Send(data []byte) error
}

// Relay owns chat state for one session: outbound send with local echo,
// inbound decode, bounded history, and open/closed lifecycle.
type Relay struct {
	selfID   string
	selfName string
	tr       Transport
	log      *slog.Logger

	mu        sync.Mutex
	open      bool
	history   []Message
	observers []func(Event)
	clock     func() time.Time
}

func NewRelay(selfID, selfName string, tr Transport, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		selfID:   selfID,
		selfName: selfName,
		tr:       tr,
		log:      log,
		clock:    time.Now,
	}
}

// OnEvent registers an observer for messages, notices and closure.
func (r *Relay) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// SetOpen flips the channel lifecycle. Transitioning to closed emits
// EventClosed once.
func (r *Relay) SetOpen(open bool) {
	r.mu.Lock()
	wasOpen := r.open
	r.open = open
	r.mu.Unlock()
	if wasOpen && !open {
		r.emit(Event{Kind: EventClosed})
	}
}

// Open reports whether messages can currently be sent.
func (r *Relay) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Send transmits text to the remote peer and echoes it into local history.
// When the channel is closed nothing is sent, nothing is echoed, and the
// caller gets ErrChannelUnavailable to surface.
func (r *Relay) Send(text string) (Message, error) {
	if text == "" {
		return Message{}, errors.New("empty message")
	}

	r.mu.Lock()
	open := r.open
	r.mu.Unlock()
	if !open {
		return Message{}, ErrChannelUnavailable
	}

	msg := Message{
		ID:         uuid.NewString(),
		SenderID:   r.selfID,
		SenderName: r.selfName,
		Text:       text,
		SentAt:     r.clock().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	if err := r.tr.Send(raw); err != nil {
		r.log.Warn("chat: send failed", "error", err)
		return Message{}, ErrChannelUnavailable
	}

	msg.IsOwn = true
	r.append(msg)
	r.emit(Event{Kind: EventMessage, Message: msg})
	return msg, nil
}

// HandleIncoming decodes one frame from the remote peer. Malformed frames
// are dropped with a visible notice; they never crash the session.
func (r *Relay) HandleIncoming(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Text == "" || msg.SenderID == "" {
		r.log.Warn("chat: dropping malformed frame", "error", err)
		r.emit(Event{Kind: EventNotice, Notice: "a message could not be displayed"})
		return
	}
	msg.IsOwn = msg.SenderID == r.selfID
	if msg.IsOwn {
		// our own frame reflected back; history already has it
		return
	}
	r.append(msg)
	r.emit(Event{Kind: EventMessage, Message: msg})
}

// History returns the retained messages, oldest first.
func (r *Relay) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Relay) append(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, m)
	if len(r.history) > defaultHistoryCap {
		r.history = r.history[len(r.history)-defaultHistoryCap:]
	}
}

func (r *Relay) emit(e Event) {
	r.mu.Lock()
	observers := make([]func(Event), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(e)
	}
}
