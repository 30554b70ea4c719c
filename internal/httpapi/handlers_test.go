package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"reading-platform/internal/auth"
	"reading-platform/internal/billing"
	"reading-platform/internal/calls"
	"reading-platform/internal/rbac"
	"reading-platform/internal/reporting"
	"reading-platform/internal/session"
	"reading-platform/internal/signal"
	"reading-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRates struct{}

func (fakeRates) Quote(ctx context.Context, readerID string, mode session.Mode, at time.Time) (session.RateQuote, error) {
	return session.RateQuote{RatePerMinuteMinor: 200, Currency: "USD"}, nil
}

type fakeProfiles struct{}

func (fakeProfiles) GetProfile(ctx context.Context, userID string) (session.Profile, error) {
	return session.Profile{DisplayName: "User " + userID}, nil
}

type fakeWalletAPI struct {
	mu      sync.Mutex
	balance int64
	seen    map[string]bool
	credits []wallet.CreditRequest
}

func (f *fakeWalletAPI) GetBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wallet.Balance{UserID: userID, Currency: "USD", BalanceMinor: f.balance}, nil
}

func (f *fakeWalletAPI) Debit(ctx context.Context, userID string, req wallet.DebitRequest) (wallet.Ledger, wallet.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[req.IdempotencyKey] {
		return wallet.Ledger{}, wallet.Balance{BalanceMinor: f.balance}, nil
	}
	if f.balance < req.AmountMinor {
		return wallet.Ledger{}, wallet.Balance{}, wallet.ErrInsufficientFunds
	}
	f.balance -= req.AmountMinor
	f.seen[req.IdempotencyKey] = true
	return wallet.Ledger{}, wallet.Balance{BalanceMinor: f.balance}, nil
}

func (f *fakeWalletAPI) AdminManualCredit(ctx context.Context, userID, adminUserID, adminRole string, req wallet.CreditRequest) (wallet.Ledger, wallet.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if adminUserID == "" || adminRole == "" || req.AmountMinor <= 0 {
		return wallet.Ledger{}, wallet.Balance{}, wallet.ErrInvalidArgument
	}
	f.balance += req.AmountMinor
	f.credits = append(f.credits, req)
	return wallet.Ledger{}, wallet.Balance{UserID: userID, Currency: "USD", BalanceMinor: f.balance}, nil
}

func (f *fakeWalletAPI) ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error) {
	return nil, nil
}

type harness struct {
	router *gin.Engine
	store  *session.MemoryStore
	wallet *fakeWalletAPI
}

// identityMW stamps a fixed identity, standing in for the JWT middleware.
func identityMW(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newHarness(t *testing.T, userID, role string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := session.NewMemoryStore()
	svc := session.NewService(store, fakeRates{}, fakeProfiles{}, log)
	w := &fakeWalletAPI{balance: 100_000}

	sup := calls.NewSupervisor(svc, billing.Deps{
		Sessions: store,
		Wallet:   w,
		Locker:   billing.NewMemoryLocker(),
		Log:      log,
		Clock:    func() time.Time { return t0 },
		Interval: time.Hour,
	}, nil, log)

	h := Handlers{
		Wallet:   w,
		Sessions: svc,
		Super:    sup,
		Reports:  reporting.NewService(&reporting.PlatformRepo{Sessions: store, Wallet: w}),
		Signals:  signal.NewMemoryChannel(),
		Log:      log,
	}

	r := gin.New()
	r.Use(identityMW(userID, role))
	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", h.RequestSession)
		v1.POST("/sessions/:id/accept", h.AcceptSession)
		v1.POST("/sessions/:id/start", h.StartSession)
		v1.POST("/sessions/:id/end", h.EndSession)
		v1.POST("/sessions/:id/cancel", h.CancelSession)
		v1.GET("/sessions/:id", h.GetSession)
		v1.GET("/wallet/balance", h.GetWalletBalance)
		v1.GET("/reports/earnings", h.ReaderEarnings)
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		admin.POST("/wallets/:user_id/credit", h.AdminManualCredit)
	}

	return &harness{router: r, store: store, wallet: w}
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedSession(t *testing.T, h *harness, status session.Status) session.Session {
	t.Helper()
	started := t0
	sess := session.Session{
		ID:                 "sess-1",
		ReaderID:           "reader-1",
		ClientID:           "client-1",
		ReaderName:         "User reader-1",
		ClientName:         "User client-1",
		Mode:               session.ModeVideo,
		RatePerMinuteMinor: 200,
		Currency:           "USD",
		Status:             status,
		RequestedAt:        t0.Add(-time.Minute),
	}
	if status == session.StatusActive {
		sess.StartedAt = &started
	}
	if err := h.store.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return sess
}

func TestRequestSession_CreatesRequested(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)

	w := do(t, h.router, http.MethodPost, "/v1/sessions",
		gin.H{"reader_id": "reader-1", "mode": "video"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Status != session.StatusRequested || sess.RatePerMinuteMinor != 200 {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestRequestSession_ReaderRoleRejected(t *testing.T) {
	h := newHarness(t, "reader-1", rbac.RoleReader)

	w := do(t, h.router, http.MethodPost, "/v1/sessions",
		gin.H{"reader_id": "reader-2", "mode": "video"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAcceptSession_WrongReaderForbidden(t *testing.T) {
	h := newHarness(t, "reader-2", rbac.RoleReader)
	seedSession(t, h, session.StatusRequested)

	w := do(t, h.router, http.MethodPost, "/v1/sessions/sess-1/accept", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	cur, _ := h.store.Get(context.Background(), "sess-1")
	if cur.Status != session.StatusRequested {
		t.Fatalf("status mutated: %s", cur.Status)
	}
}

func TestStartSession_InvalidStateConflict(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)
	seedSession(t, h, session.StatusRequested)

	w := do(t, h.router, http.MethodPost, "/v1/sessions/sess-1/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionLifecycle_AcceptStartEnd(t *testing.T) {
	reader := newHarness(t, "reader-1", rbac.RoleReader)
	seedSession(t, reader, session.StatusRequested)

	if w := do(t, reader.router, http.MethodPost, "/v1/sessions/sess-1/accept", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, reader.router, http.MethodPost, "/v1/sessions/sess-1/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := do(t, reader.router, http.MethodPost, "/v1/sessions/sess-1/end", gin.H{"reason": "hangup"})
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Status != session.StatusEnded || sess.EndReason != "hangup" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestGetSession_ActiveIncludesRemainingSeconds(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)
	seedSession(t, h, session.StatusActive)

	w := do(t, h.router, http.MethodGet, "/v1/sessions/sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		session.Session
		RemainingSeconds int64 `json:"remaining_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 100000 minor units at 200/min keeps the clock running 30000s
	if out.RemainingSeconds != 30000 {
		t.Fatalf("expected 30000 remaining, got %d", out.RemainingSeconds)
	}
}

func TestGetSession_StrangerNotAllowed(t *testing.T) {
	h := newHarness(t, "stranger", rbac.RoleClient)
	seedSession(t, h, session.StatusActive)

	w := do(t, h.router, http.MethodGet, "/v1/sessions/sess-1", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSession_NotFound(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)

	w := do(t, h.router, http.MethodGet, "/v1/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetWalletBalance(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)

	w := do(t, h.router, http.MethodGet, "/v1/wallet/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var bal wallet.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.UserID != "client-1" || bal.BalanceMinor != 100_000 {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestAdminManualCredit_RequiresAdminRole(t *testing.T) {
	h := newHarness(t, "client-1", rbac.RoleClient)

	w := do(t, h.router, http.MethodPost, "/v1/admin/wallets/client-2/credit",
		gin.H{"amount_minor": 500, "currency": "USD", "idempotency_key": "k1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminManualCredit_AdminSucceeds(t *testing.T) {
	h := newHarness(t, "admin-1", rbac.RoleAdmin)

	w := do(t, h.router, http.MethodPost, "/v1/admin/wallets/client-2/credit",
		gin.H{"amount_minor": 500, "currency": "USD", "idempotency_key": "k1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(h.wallet.credits) != 1 || h.wallet.credits[0].AmountMinor != 500 {
		t.Fatalf("unexpected credits: %+v", h.wallet.credits)
	}
}

func TestReaderEarnings_DefaultsToCaller(t *testing.T) {
	h := newHarness(t, "reader-1", rbac.RoleReader)
	sess := seedSession(t, h, session.StatusActive)
	_, err := h.store.IncrementBilling(context.Background(), sess.ID, 90, 300)
	if err != nil {
		t.Fatalf("seed billing: %v", err)
	}

	w := do(t, h.router, http.MethodGet,
		"/v1/reports/earnings?from=2025-05-01T00:00:00Z&to=2025-07-01T00:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out reporting.EarningsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ReaderID != "reader-1" || out.TotalEarnedMinor != 300 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}
