package httpapi

import (
	"net/http"
	"time"

	"reading-platform/internal/signal"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// cross-origin is allowed; auth happens via the bearer token before the
	// upgrade, not via Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// SessionWS bridges one participant's websocket to the session's signaling
// room. Inbound frames are validated, stamped and published; room traffic is
// fanned back down the socket. Malformed frames are dropped; the connection
// survives them.
func (h Handlers) SessionWS(c *gin.Context) {
	caller := principal(c)

	// participant gate before the upgrade
	sess, err := h.Sessions.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		mapDomainErr(c, err)
		return
	}
	if sess.Status.Terminal() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already ended"})
		return
	}

	sub, err := h.Signals.Join(c.Request.Context(), sess.Room())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "signaling unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = sub.Close()
		return
	}

	log := h.log().With("session_id", sess.ID, "user_id", caller.UserID)
	done := make(chan struct{})

	// writer: room -> socket
	go func() {
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		defer conn.Close()
		for {
			select {
			case <-done:
				return
			case env, ok := <-sub.C():
				if !ok {
					return
				}
				// the sender already has the message locally
				if env.From == caller.UserID {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// reader: socket -> room
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var env signal.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read failed", "error", err)
			}
			break
		}
		if !signal.ValidKind(env.Kind) {
			log.Warn("ws dropping malformed frame", "kind", env.Kind)
			continue
		}
		// the server stamps identity and room; clients cannot spoof either
		env.From = caller.UserID
		env.RoomID = sess.Room()
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		env.SentAt = time.Now().UTC()

		if err := h.Signals.Send(c.Request.Context(), env); err != nil {
			log.Error("ws publish failed", "error", err)
			break
		}
	}

	close(done)
	_ = sub.Close()
}
