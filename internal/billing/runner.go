package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reading-platform/internal/session"
	"reading-platform/internal/wallet"
)

var (
	// ErrAlreadyRunning means another runner owns the session's billing loop.
	ErrAlreadyRunning = errors.New("billing runner already active for session")

	// ErrNotActive means the session is not in a billable state.
	ErrNotActive = errors.New("session is not active")
)

// SessionStore is the slice of the session store the billing loop needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (session.Session, error)
	IncrementBilling(ctx context.Context, id string, secondsDelta int, amountDeltaMinor int64) (session.Session, error)
}

// BalanceStore debits the client's prepaid balance. Debits are idempotent on
// the request key, so a retried settlement never charges twice.
type BalanceStore interface {
	Debit(ctx context.Context, userID string, req wallet.DebitRequest) (wallet.Ledger, wallet.Balance, error)
}

// Ender forces the session to ended_insufficient_funds when a debit cannot be
// covered. Implemented by the session service.
type Ender interface {
	EndInsufficientFunds(ctx context.Context, id string) (session.Session, error)
}

// Auditor records billing-forced stops. Best-effort.
type Auditor interface {
	LogBillingStop(ctx context.Context, sessionID, reason, metadata string) error
}

type Deps struct {
	Sessions SessionStore
	Wallet   BalanceStore
	Ender    Ender
	Locker   Locker
	Auditor  Auditor // optional

	Log      *slog.Logger
	Clock    func() time.Time
	Interval time.Duration
}

func (d *Deps) withDefaults() error {
	if d.Sessions == nil || d.Wallet == nil || d.Ender == nil || d.Locker == nil {
		return errors.New("billing: missing dependency")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Interval <= 0 {
		d.Interval = time.Minute
	}
	return nil
}

// Runner is the billing loop for one active session. It wakes every tick,
// charges the client for the seconds elapsed since the previous settlement,
// and records the accumulators on the session row.
//
// Charging rule: the cumulative charge is always ChargeForSeconds(elapsed)
// and each settlement debits the difference against the previous cumulative
// total, so repeated settlements can never drift from the rounding rule.
//
// An interval the balance cannot fully cover is not charged at all; the
// session is forced to ended_insufficient_funds instead.
type Runner struct {
	deps Deps

	id        string
	clientID  string
	rate      int64
	currency  string
	startedAt time.Time

	mu            sync.Mutex
	billedSeconds int
	// debited but not yet recorded on the session row after a transient
	// store failure; merged into the next IncrementBilling call
	pendingSeconds int
	pendingAmount  int64

	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	stopErr     error
}

// StartRunner acquires the per-session billing lock and launches the loop.
// Exactly one runner per session exists platform-wide; a second call returns
// ErrAlreadyRunning. The runner resumes from the session's recorded
// BilledSeconds, so a restart never re-bills settled time.
func StartRunner(ctx context.Context, deps Deps, sess session.Session) (*Runner, error) {
	if err := deps.withDefaults(); err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive || sess.StartedAt == nil {
		return nil, ErrNotActive
	}
	if sess.RatePerMinuteMinor <= 0 {
		return nil, fmt.Errorf("billing: session %s has no rate", sess.ID)
	}

	ok, err := deps.Locker.Acquire(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("billing lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		deps:          deps,
		id:            sess.ID,
		clientID:      sess.ClientID,
		rate:          sess.RatePerMinuteMinor,
		currency:      sess.Currency,
		startedAt:     sess.StartedAt.UTC(),
		billedSeconds: sess.BilledSeconds,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go r.loop(loopCtx)

	deps.Log.Info("billing runner started",
		"session_id", r.id, "client_id", r.clientID,
		"rate_minor", r.rate, "interval", deps.Interval)
	return r, nil
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	t := time.NewTicker(r.deps.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			// Re-check the store each fire: an end committed by another
			// instance stops the loop without settling here; the stopper
			// owns the final partial interval.
			cur, err := r.deps.Sessions.Get(ctx, r.id)
			if err != nil {
				r.deps.Log.Error("billing: session lookup failed", "session_id", r.id, "error", err)
				continue
			}
			if cur.Status != session.StatusActive {
				r.deps.Log.Info("billing: session no longer active", "session_id", r.id, "status", cur.Status)
				r.release()
				return
			}
			if err := r.settle(ctx, now); err != nil {
				r.release()
				return
			}
		}
	}
}

// settle advances the billing cursor to the elapsed wall-clock seconds at
// now. It debits the charge delta first and records on the session row
// second; the idempotent debit key is derived from the target cursor, so a
// crashed-and-retried settlement replays instead of double-charging.
func (r *Runner) settle(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := int(now.UTC().Sub(r.startedAt) / time.Second)
	if elapsed <= r.billedSeconds {
		return nil
	}

	// Re-read the row before charging. Once a terminal status has committed,
	// the ending path owns the final settlement; a late settle here would
	// debit wall-clock time past call end with no session accounting behind
	// it.
	cur, err := r.deps.Sessions.Get(ctx, r.id)
	if err != nil {
		return fmt.Errorf("billing: session lookup: %w", err)
	}
	if cur.Status.Terminal() {
		r.deps.Log.Info("billing: skipping settlement on ended session",
			"session_id", r.id, "status", cur.Status)
		return session.ErrTerminal
	}

	delta := session.ChargeForSeconds(elapsed, r.rate) - session.ChargeForSeconds(r.billedSeconds, r.rate)
	if delta > 0 {
		_, _, err := r.deps.Wallet.Debit(ctx, r.clientID, wallet.DebitRequest{
			AmountMinor:    delta,
			Currency:       r.currency,
			ExternalRef:    "session_billing",
			IdempotencyKey: fmt.Sprintf("sess:%s:sec:%d", r.id, elapsed),
			Metadata:       fmt.Sprintf(`{"session_id":%q}`, r.id),
		})
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			// The interval cannot be fully paid, so none of it is charged.
			r.deps.Log.Info("billing stop: insufficient funds",
				"session_id", r.id, "client_id", r.clientID,
				"billed_seconds", r.billedSeconds, "needed_minor", delta)
			if r.deps.Auditor != nil {
				_ = r.deps.Auditor.LogBillingStop(ctx, r.id, "insufficient_funds",
					fmt.Sprintf(`{"billed_seconds":%d,"needed_minor":%d}`, r.billedSeconds, delta))
			}
			if _, endErr := r.deps.Ender.EndInsufficientFunds(ctx, r.id); endErr != nil && !errors.Is(endErr, session.ErrInvalidState) {
				r.deps.Log.Error("billing: forced end failed", "session_id", r.id, "error", endErr)
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("billing debit: %w", err)
		}
	}

	r.pendingSeconds += elapsed - r.billedSeconds
	r.pendingAmount += delta
	r.billedSeconds = elapsed

	if _, err := r.deps.Sessions.IncrementBilling(ctx, r.id, r.pendingSeconds, r.pendingAmount); err != nil {
		if errors.Is(err, session.ErrTerminal) {
			// Session was terminated without stopping this runner first.
			r.deps.Log.Error("billing: settled interval on terminal session",
				"session_id", r.id, "seconds", r.pendingSeconds, "amount_minor", r.pendingAmount)
			return err
		}
		// Transient store failure: the debit stands, carry the unrecorded
		// delta into the next settlement.
		r.deps.Log.Error("billing: increment failed, carrying delta",
			"session_id", r.id, "error", err)
		return nil
	}
	r.pendingSeconds, r.pendingAmount = 0, 0
	return nil
}

// Stop halts the loop and settles the final partial interval while the
// session is still active. The caller commits the terminal status transition
// afterwards; this ordering keeps IncrementBilling's fail-on-terminal
// contract absolute. Idempotent: only the first call settles.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.done

		if err := r.settle(ctx, r.deps.Clock()); err != nil && !errors.Is(err, session.ErrTerminal) {
			r.stopErr = err
		}
		r.release()
		r.deps.Log.Info("billing runner stopped", "session_id", r.id, "billed_seconds", r.billedSeconds)
	})
	return r.stopErr
}

func (r *Runner) release() {
	r.releaseOnce.Do(func() {
		if err := r.deps.Locker.Release(context.Background(), r.id); err != nil {
			r.deps.Log.Error("billing: lock release failed", "session_id", r.id, "error", err)
		}
	})
}

// BilledSeconds reports the runner's local settlement cursor.
func (r *Runner) BilledSeconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.billedSeconds
}
