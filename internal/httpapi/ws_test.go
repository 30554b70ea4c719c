package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reading-platform/internal/auth"
	"reading-platform/internal/rbac"
	"reading-platform/internal/session"
	"reading-platform/internal/signal"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ginContextFor wraps a raw handler invocation in a gin context so the
// websocket upgrade can hijack the real server connection.
func ginContextFor(w http.ResponseWriter, r *http.Request, id string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = r
	c.Params = gin.Params{{Key: "id", Value: id}}
	return c
}

func newWSServer(t *testing.T) (*httptest.Server, *session.MemoryStore) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemoryStore()
	svc := session.NewService(store, fakeRates{}, fakeProfiles{}, log)

	h := Handlers{
		Sessions: svc,
		Signals:  signal.NewMemoryChannel(),
		Log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-Test-User")
		role := r.Header.Get("X-Test-Role")
		r = r.WithContext(auth.WithIdentity(r.Context(), userID, role))

		id := strings.TrimPrefix(r.URL.Path, "/ws/")
		c := ginContextFor(w, r, id)
		h.SessionWS(c)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func dialWS(t *testing.T, srv *httptest.Server, sessionID, userID, role string) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	hdr := http.Header{}
	hdr.Set("X-Test-User", userID)
	hdr.Set("X-Test-Role", role)
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil && resp == nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, resp
}

func seedActive(t *testing.T, store *session.MemoryStore) {
	t.Helper()
	started := t0
	err := store.Create(context.Background(), session.Session{
		ID:                 "sess-1",
		ReaderID:           "reader-1",
		ClientID:           "client-1",
		Mode:               session.ModeVideo,
		RatePerMinuteMinor: 200,
		Currency:           "USD",
		Status:             session.StatusActive,
		RequestedAt:        t0.Add(-time.Minute),
		StartedAt:          &started,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSessionWS_RelaysBetweenParticipants(t *testing.T) {
	srv, store := newWSServer(t)
	seedActive(t, store)

	client, _ := dialWS(t, srv, "sess-1", "client-1", rbac.RoleClient)
	defer client.Close()
	reader, _ := dialWS(t, srv, "sess-1", "reader-1", rbac.RoleReader)
	defer reader.Close()

	// give the reader's subscription a moment to attach
	time.Sleep(50 * time.Millisecond)

	offer := signal.Envelope{Kind: signal.KindOffer, Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	if err := client.WriteJSON(offer); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = reader.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got signal.Envelope
	if err := reader.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != signal.KindOffer {
		t.Fatalf("expected offer, got %s", got.Kind)
	}
	// identity is stamped server-side, never trusted from the frame
	if got.From != "client-1" || got.RoomID != "session:sess-1" || got.ID == "" {
		t.Fatalf("unexpected stamping: %+v", got)
	}
}

func TestSessionWS_MalformedFrameDoesNotKillConnection(t *testing.T) {
	srv, store := newWSServer(t)
	seedActive(t, store)

	client, _ := dialWS(t, srv, "sess-1", "client-1", rbac.RoleClient)
	defer client.Close()
	reader, _ := dialWS(t, srv, "sess-1", "reader-1", rbac.RoleReader)
	defer reader.Close()

	time.Sleep(50 * time.Millisecond)

	// unknown kind: dropped, not fatal
	if err := client.WriteJSON(signal.Envelope{Kind: signal.Kind("bogus")}); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := client.WriteJSON(signal.Envelope{Kind: signal.KindChat, Payload: json.RawMessage(`{"text":"hi"}`)}); err != nil {
		t.Fatalf("write valid: %v", err)
	}

	_ = reader.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got signal.Envelope
	if err := reader.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != signal.KindChat {
		t.Fatalf("expected chat after dropped frame, got %s", got.Kind)
	}
}

func TestSessionWS_StrangerRejected(t *testing.T) {
	srv, store := newWSServer(t)
	seedActive(t, store)

	conn, resp := dialWS(t, srv, "sess-1", "stranger", rbac.RoleClient)
	if conn != nil {
		conn.Close()
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake, got %+v", resp)
	}
}

func TestSessionWS_TerminalSessionRejected(t *testing.T) {
	srv, store := newWSServer(t)
	seedActive(t, store)
	ended := t0.Add(time.Hour)
	if _, err := store.CompareAndSwapStatus(context.Background(), "sess-1",
		session.StatusActive, session.StatusEnded, session.StatusFields{EndedAt: &ended, EndReason: "hangup"}); err != nil {
		t.Fatalf("end: %v", err)
	}

	conn, resp := dialWS(t, srv, "sess-1", "client-1", rbac.RoleClient)
	if conn != nil {
		conn.Close()
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 handshake, got %+v", resp)
	}
}
