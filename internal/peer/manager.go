// Package peer manages native WebRTC peer connections using Pion. Coupling
// to the rest of the platform is via the signaling Channel only.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/signal"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("peer connection closed")

const (
	maxICERetries = 3
	retryBase     = 2 * time.Second
)

// conn is the slice of *webrtc.PeerConnection the manager uses. Narrowed so
// the signaling and lifecycle logic is testable without real ICE.
type conn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	RemoteDescription() *webrtc.SessionDescription
	Close() error
}

// Config wires one manager to one session.
type Config struct {
	SessionID string
	SelfID    string
	Mode      session.Mode

	// Initiator creates the offer and the chat data channel; the other side
	// answers.
	Initiator bool

	ICEURLs []string
	Channel signal.Channel

	// GracePeriod is how long a disconnect may last before the call is
	// forced to end with reason "connection_lost".
	GracePeriod time.Duration

	// OnEnded fires exactly once when the connection reaches a terminal
	// status, with the end reason. Optional.
	OnEnded func(reason string)

	Log *slog.Logger
}

// Manager owns one peer connection and bridges signaling to it.
//
// Signaling tolerance: duplicate envelopes are suppressed by ID at the
// subscription, and state guards here drop out-of-order descriptions
// (a second offer after the answer, an answer with no pending offer) instead
// of corrupting negotiation.
type Manager struct {
	cfg Config
	log *slog.Logger

	pc   conn
	sub  signal.Subscription
	chat *webrtc.DataChannel

	mu             sync.Mutex
	status         CallStatus
	observers      []func(CallStatus)
	pendingICE     []webrtc.ICECandidateInit
	retries        int
	graceTimer     *time.Timer
	awaitingAnswer bool
	closed         bool

	endOnce sync.Once
	done    chan struct{}
}

// newConn builds the real Pion peer connection. Overridable in tests.
var newConn = func(cfg Config) (conn, *webrtc.DataChannel, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEURLs))
	for _, u := range cfg.ICEURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, nil, err
	}

	// Transceivers follow the session mode; chat-only sessions carry no media.
	switch cfg.Mode {
	case session.ModeVideo:
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
	case session.ModeAudio:
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
	}

	// Chat rides an ordered data channel in every mode, so text keeps working
	// when media is degraded.
	var dc *webrtc.DataChannel
	if cfg.Initiator {
		ordered := true
		dc, err = pc.CreateDataChannel("chat", &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
	}
	return pc, dc, nil
}

// Start builds the peer connection, joins the session's signaling room and,
// for the initiator, sends the first offer.
func Start(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.SessionID == "" || cfg.SelfID == "" || cfg.Channel == nil {
		return nil, errors.New("peer: missing config")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}

	m := &Manager{
		cfg:    cfg,
		log:    cfg.Log,
		status: StatusLoadingSession,
		done:   make(chan struct{}),
	}

	pc, dc, err := newConn(cfg)
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	m.pc = pc
	m.chat = dc

	if real, ok := pc.(*webrtc.PeerConnection); ok {
		m.wireCallbacks(real)
	}

	sub, err := cfg.Channel.Join(ctx, m.room())
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	m.sub = sub
	go m.dispatchLoop()

	m.setStatus(StatusWaitingPermission)

	if cfg.Initiator {
		if err := m.sendOffer(ctx, false); err != nil {
			m.Close(ctx, "error")
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) room() string { return "session:" + m.cfg.SessionID }

func (m *Manager) wireCallbacks(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.send(context.Background(), signal.KindCandidate, c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.handlePeerState(s)
	})
	if !m.cfg.Initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != "chat" {
				return
			}
			m.mu.Lock()
			m.chat = dc
			m.mu.Unlock()
		})
	}
}

// PermissionGranted records that the client approved local media capture.
// Ignored once connecting has begun.
func (m *Manager) PermissionGranted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusWaitingPermission {
		m.setStatusLocked(StatusPermissionGranted)
	}
}

// Status reports the current call status.
func (m *Manager) Status() CallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers an observer fired on every status change.
func (m *Manager) OnStatus(fn func(CallStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// ChatChannel returns the underlying chat data channel, nil until negotiated.
func (m *Manager) ChatChannel() *webrtc.DataChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chat
}

func (m *Manager) setStatus(s CallStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(s)
}

func (m *Manager) setStatusLocked(s CallStatus) {
	if m.status == s || m.status.Terminal() {
		return
	}
	m.status = s
	observers := make([]func(CallStatus), len(m.observers))
	copy(observers, m.observers)
	go func() {
		for _, fn := range observers {
			fn(s)
		}
	}()
}

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case env, ok := <-m.sub.C():
			if !ok {
				return
			}
			if env.From == m.cfg.SelfID {
				continue
			}
			m.dispatch(env)
		}
	}
}

func (m *Manager) dispatch(env signal.Envelope) {
	switch env.Kind {
	case signal.KindOffer:
		m.handleOffer(env)
	case signal.KindAnswer:
		m.handleAnswer(env)
	case signal.KindCandidate:
		m.handleCandidate(env)
	case signal.KindHangup:
		m.Close(context.Background(), "hangup")
	case signal.KindBye:
		m.handleBye()
	}
}

func (m *Manager) handleOffer(env signal.Envelope) {
	if m.cfg.Initiator {
		// glare: both sides offered. The session initiator wins; drop theirs.
		m.log.Warn("peer: dropping offer glare", "session_id", m.cfg.SessionID)
		return
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &sd); err != nil {
		m.log.Warn("peer: dropping malformed offer", "session_id", m.cfg.SessionID, "error", err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	// a repeat offer on an established connection is a renegotiation, not a
	// reconnect; keep the connected status
	if m.status != StatusConnected {
		m.setStatusLocked(StatusConnecting)
	}
	m.mu.Unlock()

	if err := m.pc.SetRemoteDescription(sd); err != nil {
		m.log.Error("peer: set remote offer failed", "session_id", m.cfg.SessionID, "error", err)
		return
	}
	m.flushPendingICE()

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		m.log.Error("peer: create answer failed", "session_id", m.cfg.SessionID, "error", err)
		return
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		m.log.Error("peer: set local answer failed", "session_id", m.cfg.SessionID, "error", err)
		return
	}
	m.send(context.Background(), signal.KindAnswer, answer)
}

func (m *Manager) handleAnswer(env signal.Envelope) {
	if !m.cfg.Initiator {
		return
	}
	// duplicate/out-of-order answers are dropped once the pending offer is
	// answered; renegotiation re-arms the guard
	m.mu.Lock()
	if !m.awaitingAnswer {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &sd); err != nil {
		m.log.Warn("peer: dropping malformed answer", "session_id", m.cfg.SessionID, "error", err)
		return
	}
	if err := m.pc.SetRemoteDescription(sd); err != nil {
		m.log.Error("peer: set remote answer failed", "session_id", m.cfg.SessionID, "error", err)
		return
	}

	m.mu.Lock()
	m.awaitingAnswer = false
	if m.status != StatusConnected {
		m.setStatusLocked(StatusConnecting)
	}
	m.mu.Unlock()
	m.flushPendingICE()
}

func (m *Manager) handleCandidate(env signal.Envelope) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		m.log.Warn("peer: dropping malformed candidate", "session_id", m.cfg.SessionID, "error", err)
		return
	}
	// candidates arriving before the remote description buffer until it lands
	if m.pc.RemoteDescription() == nil {
		m.mu.Lock()
		m.pendingICE = append(m.pendingICE, c)
		m.mu.Unlock()
		return
	}
	if err := m.pc.AddICECandidate(c); err != nil {
		m.log.Warn("peer: add candidate failed", "session_id", m.cfg.SessionID, "error", err)
	}
}

func (m *Manager) flushPendingICE() {
	m.mu.Lock()
	pending := m.pendingICE
	m.pendingICE = nil
	m.mu.Unlock()
	for _, c := range pending {
		if err := m.pc.AddICECandidate(c); err != nil {
			m.log.Warn("peer: buffered candidate failed", "session_id", m.cfg.SessionID, "error", err)
		}
	}
}

func (m *Manager) handleBye() {
	m.mu.Lock()
	if m.closed || m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(StatusDisconnected)
	m.startGraceLocked()
	m.mu.Unlock()
}

func (m *Manager) handlePeerState(s webrtc.PeerConnectionState) {
	if st, ok := statusFromPeerState(s); ok {
		m.mu.Lock()
		switch st {
		case StatusConnected:
			m.retries = 0
			m.stopGraceLocked()
		case StatusDisconnected:
			m.startGraceLocked()
		}
		m.setStatusLocked(st)
		m.mu.Unlock()
		return
	}
	if s == webrtc.PeerConnectionStateFailed {
		m.retryOrFail()
	}
}

// retryOrFail attempts an ICE restart with exponential backoff; after the
// retry budget is spent the call ends with an error.
func (m *Manager) retryOrFail() {
	m.mu.Lock()
	if m.closed || m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.retries++
	attempt := m.retries
	m.mu.Unlock()

	if attempt > maxICERetries {
		m.log.Error("peer: retries exhausted", "session_id", m.cfg.SessionID, "attempts", attempt-1)
		m.setStatus(StatusError)
		m.Close(context.Background(), "connection_lost")
		return
	}

	backoff := retryBase << (attempt - 1)
	m.log.Warn("peer: connection failed, retrying",
		"session_id", m.cfg.SessionID, "attempt", attempt, "backoff", backoff)
	m.setStatus(StatusConnecting)

	time.AfterFunc(backoff, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed || !m.cfg.Initiator {
			return
		}
		if err := m.sendOffer(context.Background(), true); err != nil {
			m.log.Error("peer: restart offer failed", "session_id", m.cfg.SessionID, "error", err)
		}
	})
}

func (m *Manager) startGraceLocked() {
	if m.graceTimer != nil {
		return
	}
	m.graceTimer = time.AfterFunc(m.cfg.GracePeriod, func() {
		m.log.Info("peer: grace period expired", "session_id", m.cfg.SessionID)
		m.Close(context.Background(), "connection_lost")
	})
}

func (m *Manager) stopGraceLocked() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

func (m *Manager) sendOffer(ctx context.Context, iceRestart bool) error {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := m.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	m.mu.Lock()
	m.awaitingAnswer = true
	m.mu.Unlock()
	m.send(ctx, signal.KindOffer, offer)
	return nil
}

// Renegotiate sends a fresh offer over the existing connection, picking up
// local media changes (a video toggle, a replaced track) without tearing
// anything down. Initiator only; the answering side reacts to the new offer.
func (m *Manager) Renegotiate(ctx context.Context) error {
	if !m.cfg.Initiator {
		return errors.New("peer: only the initiator renegotiates")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()
	return m.sendOffer(ctx, false)
}

func (m *Manager) send(ctx context.Context, kind signal.Kind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.log.Error("peer: marshal payload failed", "kind", kind, "error", err)
		return
	}
	err = m.cfg.Channel.Send(ctx, signal.Envelope{
		ID:      uuid.NewString(),
		RoomID:  m.room(),
		From:    m.cfg.SelfID,
		Kind:    kind,
		Payload: raw,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		m.log.Error("peer: signal send failed", "kind", kind, "session_id", m.cfg.SessionID, "error", err)
	}
}

// Close tears the connection down. Idempotent: only the first call sends the
// hangup, closes the transport and fires OnEnded.
func (m *Manager) Close(ctx context.Context, reason string) {
	m.endOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.stopGraceLocked()
		if reason == "error" || m.status == StatusError {
			m.status = StatusError
		} else {
			m.setStatusLocked(StatusEnded)
		}
		m.mu.Unlock()

		if reason == "hangup" || reason == "ended" {
			m.send(ctx, signal.KindHangup, struct{}{})
		}
		close(m.done)
		if m.sub != nil {
			_ = m.sub.Close()
		}
		if err := m.pc.Close(); err != nil {
			m.log.Warn("peer: close failed", "session_id", m.cfg.SessionID, "error", err)
		}
		m.log.Info("peer: closed", "session_id", m.cfg.SessionID, "reason", reason)

		if m.cfg.OnEnded != nil {
			m.cfg.OnEnded(reason)
		}
	})
}
