package signal

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSChannel is the client-side counterpart of the session websocket: it
// speaks Channel over a single dialed connection, letting the peer manager
// and chat run outside the API process (headless probes, kiosk clients).
//
// The connection is bound to one session room at dial time; Join must be
// called with that room.
type WSChannel struct {
	conn   *websocket.Conn
	roomID string
	log    *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   []*memorySub
	closed bool
}

// DialWS connects to a session's signaling endpoint. The bearer token is
// the caller's access token; identity is stamped server-side.
func DialWS(ctx context.Context, rawURL, roomID, bearerToken string, log *slog.Logger) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	hdr := http.Header{}
	if bearerToken != "" {
		hdr.Set("Authorization", "Bearer "+bearerToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, hdr)
	if err != nil {
		return nil, ErrChannelUnavailable
	}
	c := &WSChannel{conn: conn, roomID: roomID, log: log}
	go c.pump()
	return c, nil
}

func (c *WSChannel) pump() {
	defer c.Close()
	for {
		var e Envelope
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}
		if !ValidKind(e.Kind) {
			c.log.Warn("ws dropping malformed frame", "kind", e.Kind)
			continue
		}
		c.mu.Lock()
		subs := append([]*memorySub(nil), c.subs...)
		c.mu.Unlock()
		for _, sub := range subs {
			if sub.seen.observe(e.ID) {
				continue
			}
			select {
			case sub.out <- e:
			default:
				// slow consumer: drop rather than stall the socket
			}
		}
	}
}

func (c *WSChannel) Join(ctx context.Context, roomID string) (Subscription, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || roomID != c.roomID {
		return nil, ErrChannelUnavailable
	}
	sub := &memorySub{
		roomID: roomID,
		out:    make(chan Envelope, 64),
		seen:   newSeenWindow(256),
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Send writes the envelope up the socket. The server stamps ID, From and
// RoomID; only the kind and payload matter here.
func (c *WSChannel) Send(ctx context.Context, e Envelope) error {
	if !ValidKind(e.Kind) {
		return ErrChannelUnavailable
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(d)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := c.conn.WriteJSON(e); err != nil {
		return ErrChannelUnavailable
	}
	return nil
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.out) })
	}
	return c.conn.Close()
}
