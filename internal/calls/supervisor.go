// Package calls coordinates the moving parts of one live session: the status
// transition in the record store, the billing runner, and the peer
// connection. Everything here is glue; the invariants live in the parts.
package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reading-platform/internal/billing"
	"reading-platform/internal/session"
	"reading-platform/internal/signal"
	"reading-platform/internal/wallet"
)

// SessionService is the slice of the session workflow the supervisor drives.
type SessionService interface {
	Start(ctx context.Context, caller session.Principal, id string) (session.Session, error)
	End(ctx context.Context, caller session.Principal, id, reason string) (session.Session, error)
	EndInsufficientFunds(ctx context.Context, id string) (session.Session, error)
	Get(ctx context.Context, caller session.Principal, id string) (session.Session, error)
}

// PeerCloser is the teardown surface of a peer connection manager.
type PeerCloser interface {
	Close(ctx context.Context, reason string)
}

// Supervisor owns the runners and peers of the sessions active on this
// instance.
type Supervisor struct {
	sessions SessionService
	billing  billing.Deps
	signals  signal.Channel // optional; room notification on forced ends
	log      *slog.Logger

	mu      sync.Mutex
	runners map[string]*billing.Runner
	peers   map[string]PeerCloser
	ends    map[string]*endState
}

// endState serializes teardown per session so racing triggers (hangup,
// disconnect grace, funds exhaustion, shutdown) settle and commit exactly
// once; losers get the winner's result.
//
// TODO: prune entries once EndedAt is older than the reconnect grace period,
// after which no late trigger can still race.
type endState struct {
	once sync.Once
	sess session.Session
	err  error
}

func NewSupervisor(sessions SessionService, billingDeps billing.Deps, signals signal.Channel, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		sessions: sessions,
		billing:  billingDeps,
		signals:  signals,
		log:      log,
		runners:  make(map[string]*billing.Runner),
		peers:    make(map[string]PeerCloser),
		ends:     make(map[string]*endState),
	}
	if s.billing.Ender == nil {
		// Funds exhaustion must tear down the whole session, not just flip
		// the record, so the billing loop's forced-end path lands here.
		s.billing.Ender = s
	}
	return s
}

// Begin activates the session and starts its billing runner. Billing is not
// optional: if no runner can be started (and none is running elsewhere), the
// session is ended again rather than left active and unbilled.
func (s *Supervisor) Begin(ctx context.Context, caller session.Principal, id string) (session.Session, error) {
	sess, err := s.sessions.Start(ctx, caller, id)
	if err != nil {
		return session.Session{}, err
	}

	r, err := billing.StartRunner(ctx, s.billing, sess)
	if errors.Is(err, billing.ErrAlreadyRunning) {
		// a retry landed on another instance that already owns billing
		return sess, nil
	}
	if err != nil {
		s.log.Error("supervisor: billing start failed, ending session",
			"session_id", id, "error", err)
		if _, endErr := s.sessions.End(ctx, session.SystemPrincipal, id, "billing_unavailable"); endErr != nil {
			s.log.Error("supervisor: emergency end failed", "session_id", id, "error", endErr)
		}
		return session.Session{}, err
	}

	s.mu.Lock()
	s.runners[id] = r
	s.mu.Unlock()
	return sess, nil
}

// RegisterPeer attaches a peer manager so teardown closes it with the
// session.
func (s *Supervisor) RegisterPeer(id string, p PeerCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = p
}

// End tears the session down: the billing runner settles the final partial
// interval first, then the terminal status commits, then the peer closes.
//
// Safe under racing teardown triggers (hangup vs. disconnect grace vs. funds
// exhaustion): settlement happens once, and a loser that finds the session
// already terminal treats that as success.
func (s *Supervisor) End(ctx context.Context, caller session.Principal, id, reason string) (session.Session, error) {
	s.mu.Lock()
	st, ok := s.ends[id]
	if !ok {
		st = &endState{}
		s.ends[id] = st
	}
	s.mu.Unlock()

	st.once.Do(func() {
		st.sess, st.err = s.teardown(ctx, caller, id, reason)
	})
	return st.sess, st.err
}

func (s *Supervisor) teardown(ctx context.Context, caller session.Principal, id, reason string) (session.Session, error) {
	s.mu.Lock()
	r := s.runners[id]
	delete(s.runners, id)
	p := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if r != nil {
		if err := r.Stop(ctx); err != nil && !errors.Is(err, wallet.ErrInsufficientFunds) {
			s.log.Error("supervisor: billing stop failed", "session_id", id, "error", err)
		}
	}

	sess, err := s.sessions.End(ctx, caller, id, reason)
	if errors.Is(err, session.ErrInvalidState) {
		cur, getErr := s.sessions.Get(ctx, caller, id)
		if getErr == nil && cur.Status.Terminal() {
			sess, err = cur, nil
		}
	}

	if p != nil {
		p.Close(ctx, reason)
	}
	return sess, err
}

// EndInsufficientFunds is the billing loop's forced-end path. The terminal
// status commits synchronously so the loop observes it on return; the rest
// of the teardown (peer close, runner deregistration, room notification)
// runs on its own goroutine, because the caller is the loop goroutine itself
// and a synchronous Stop here would wait on it forever.
func (s *Supervisor) EndInsufficientFunds(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.sessions.EndInsufficientFunds(ctx, id)
	if err != nil {
		return sess, err
	}
	go s.finishForcedEnd(sess)
	return sess, nil
}

func (s *Supervisor) finishForcedEnd(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	// The loop self-terminates and releases its own lock; dropping the runner
	// here just stops later triggers from stopping a loop that is gone.
	delete(s.runners, sess.ID)
	p := s.peers[sess.ID]
	delete(s.peers, sess.ID)
	st, ok := s.ends[sess.ID]
	if !ok {
		st = &endState{}
		s.ends[sess.ID] = st
	}
	s.mu.Unlock()

	// Record the result so a hangup racing the forced end lands on it instead
	// of re-running teardown.
	st.once.Do(func() { st.sess, st.err = sess, nil })

	if p != nil {
		p.Close(ctx, "insufficient_funds")
	}
	s.notifyForcedEnd(ctx, sess)
}

// notifyForcedEnd tells the room the platform hung up, so the participant who
// did not run out of funds is not left staring at a frozen call.
func (s *Supervisor) notifyForcedEnd(ctx context.Context, sess session.Session) {
	if s.signals == nil {
		return
	}
	err := s.signals.Send(ctx, signal.Envelope{
		ID:      uuid.NewString(),
		RoomID:  sess.Room(),
		From:    session.SystemPrincipal.UserID,
		Kind:    signal.KindHangup,
		Payload: json.RawMessage(fmt.Sprintf(`{"reason":%q}`, "insufficient_funds")),
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("supervisor: forced-end notification failed",
			"session_id", sess.ID, "error", err)
	}
}

// Shutdown ends every session this instance supervises, for graceful
// process exit.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runners))
	for id := range s.runners {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.End(ctx, session.SystemPrincipal, id, "shutdown"); err != nil {
			s.log.Error("supervisor: shutdown end failed", "session_id", id, "error", err)
		}
	}
}
