package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"reading-platform/internal/auth"
	"reading-platform/internal/calls"
	"reading-platform/internal/rates"
	"reading-platform/internal/rbac"
	"reading-platform/internal/reporting"
	"reading-platform/internal/session"
	"reading-platform/internal/signal"
	"reading-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// WalletAPI is the wallet surface the handlers need.
type WalletAPI interface {
	GetBalance(ctx context.Context, userID string) (wallet.Balance, error)
	AdminManualCredit(ctx context.Context, userID, adminUserID, adminRole string, req wallet.CreditRequest) (wallet.Ledger, wallet.Balance, error)
	ListLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.Ledger, error)
}

// Auditor records privileged actions. Optional.
type Auditor interface {
	LogAdminAction(ctx context.Context, actorUserID, actorRole, message, walletID, metadata string) error
}

type Handlers struct {
	Auth     *auth.Manager
	Wallet   WalletAPI
	Sessions *session.Service
	Super    *calls.Supervisor
	Reports  *reporting.Service
	Rates    *rates.Service
	Signals  signal.Channel
	Audit    Auditor
	ICEURLs  []string
	Log      *slog.Logger
}

func (h Handlers) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func principal(c *gin.Context) session.Principal {
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return session.Principal{UserID: userID, Role: role}
}

// mapDomainErr translates service errors into HTTP status codes.
func mapDomainErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, session.ErrInvalidState):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid session state"})
	case errors.Is(err, session.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds"})
	case errors.Is(err, wallet.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Sessions ---

type requestSessionRequest struct {
	ReaderID string `json:"reader_id"`
	Mode     string `json:"mode"`
}

func (h Handlers) RequestSession(c *gin.Context) {
	var req requestSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Sessions.Request(c.Request.Context(), principal(c), req.ReaderID, session.Mode(req.Mode))
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) AcceptSession(c *gin.Context) {
	sess, err := h.Sessions.Accept(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// StartSession activates the session and its billing loop.
func (h Handlers) StartSession(c *gin.Context) {
	sess, err := h.Super.Begin(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type endSessionRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) EndSession(c *gin.Context) {
	var req endSessionRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "hangup"
	}
	sess, err := h.Super.End(c.Request.Context(), principal(c), c.Param("id"), req.Reason)
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) CancelSession(c *gin.Context) {
	var req endSessionRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "declined"
	}
	sess, err := h.Sessions.Cancel(c.Request.Context(), principal(c), c.Param("id"), req.Reason)
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	// while the clock is running, show how long the client's balance lasts
	if sess.Status == session.StatusActive && h.Wallet != nil {
		if bal, err := h.Wallet.GetBalance(c.Request.Context(), sess.ClientID); err == nil {
			c.JSON(http.StatusOK, struct {
				session.Session
				RemainingSeconds int64 `json:"remaining_seconds"`
			}{sess, sess.RemainingSeconds(bal.BalanceMinor)})
			return
		}
	}
	c.JSON(http.StatusOK, sess)
}

// RTCConfig returns the ICE servers a participant should dial through.
func (h Handlers) RTCConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.ICEURLs})
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListWalletLedger(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	entries, err := h.Wallet.ListLedger(c.Request.Context(), userID, from, to)
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type adminManualCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

// AdminManualCredit performs an admin-only wallet credit.
// RBAC: admin (enforced by route middleware); every call is audited.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	targetUserID := c.Param("user_id")
	if targetUserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	_, bal, err := h.Wallet.AdminManualCredit(c.Request.Context(), targetUserID, adminUserID, adminRole, wallet.CreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	if h.Audit != nil {
		_ = h.Audit.LogAdminAction(c.Request.Context(), adminUserID, adminRole,
			"manual_credit: "+req.Reason, targetUserID, req.Metadata)
	}
	c.JSON(http.StatusOK, bal)
}

type publishRateRequest struct {
	ReaderID           string     `json:"reader_id"`
	Mode               string     `json:"mode"`
	Currency           string     `json:"currency"`
	RatePerMinuteMinor int64      `json:"rate_per_minute_minor"`
	EffectiveFrom      *time.Time `json:"effective_from,omitempty"`
	EffectiveTo        *time.Time `json:"effective_to,omitempty"`
}

// PublishRateCard creates a new rate card. In-flight sessions keep the rate
// snapshotted at request time; only new requests see the new card.
// RBAC: admin (enforced by route middleware).
func (h Handlers) PublishRateCard(c *gin.Context) {
	if h.Rates == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rates not configured"})
		return
	}
	var req publishRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	card := rates.RateCard{
		ReaderID:           req.ReaderID,
		Mode:               req.Mode,
		Currency:           req.Currency,
		RatePerMinuteMinor: req.RatePerMinuteMinor,
		EffectiveTo:        req.EffectiveTo,
	}
	if req.EffectiveFrom != nil {
		card.EffectiveFrom = *req.EffectiveFrom
	}
	out, err := h.Rates.Publish(c.Request.Context(), card)
	if err != nil {
		if errors.Is(err, rates.ErrInvalidRateReq) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate publish failed"})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// --- Reporting ---

func (h Handlers) ReaderEarnings(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	readerID := userID
	// admin may inspect any reader
	if q := c.Query("reader_id"); q != "" && rbac.IsAdmin(role) {
		readerID = q
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.EarningsSummary(c.Request.Context(), reporting.EarningsSummaryRequest{
		ReaderID: readerID,
		Mode:     c.Query("mode"),
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ClientSpend(c *gin.Context) {
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	clientID := userID
	if q := c.Query("client_id"); q != "" && rbac.IsAdmin(role) {
		clientID = q
	}
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		ClientID: clientID,
		Currency: c.Query("currency"),
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// parseRange reads from/to RFC3339 query params; defaults to the last 30 days.
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if q := c.Query("from"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if q := c.Query("to"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	return from, to, true
}
