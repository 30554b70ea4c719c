// Command probe is a headless session participant for smoke-testing a
// deployment: it joins a session's signaling room, negotiates a real peer
// connection and relays chat, printing every status change. Point two
// probes (one initiator, one answerer) at the same session to exercise the
// full call path without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"reading-platform/internal/chat"
	"reading-platform/internal/peer"
	"reading-platform/internal/session"
	"reading-platform/internal/signal"
)

func main() {
	var (
		apiURL    = flag.String("api", "ws://localhost:8080", "API base URL (ws:// or wss://)")
		token     = flag.String("token", "", "access token")
		sessionID = flag.String("session", "", "session id to join")
		userID    = flag.String("user", "", "own user id")
		mode      = flag.String("mode", "video", "session mode: video, audio or chat")
		initiator = flag.Bool("initiator", false, "send the offer (exactly one side)")
		iceURLs   = flag.String("ice", "stun:stun.l.google.com:19302", "comma-separated ICE server URLs")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *sessionID == "" || *userID == "" {
		log.Error("session and user are required")
		os.Exit(2)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL, err := url.JoinPath(*apiURL, "v1", "sessions", *sessionID, "ws")
	if err != nil {
		log.Error("bad api url", "err", err)
		os.Exit(2)
	}
	roomID := "session:" + *sessionID

	ch, err := signal.DialWS(ctx, wsURL, roomID, *token, log)
	if err != nil {
		log.Error("signaling dial failed", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	ended := make(chan string, 1)
	m, err := peer.Start(ctx, peer.Config{
		SessionID: *sessionID,
		SelfID:    *userID,
		Mode:      session.Mode(*mode),
		Initiator: *initiator,
		ICEURLs:   strings.Split(*iceURLs, ","),
		Channel:   ch,
		OnEnded: func(reason string) {
			select {
			case ended <- reason:
			default:
			}
		},
		Log: log,
	})
	if err != nil {
		log.Error("peer start failed", "err", err)
		os.Exit(1)
	}
	m.OnStatus(func(s peer.CallStatus) {
		log.Info("call status", "status", s)
	})
	m.PermissionGranted()

	relay := chat.NewRelay(*userID, *userID, chatTransport{ch: ch, ctx: ctx}, log)
	relay.OnEvent(func(e chat.Event) {
		switch e.Kind {
		case chat.EventMessage:
			who := e.Message.SenderName
			if e.Message.IsOwn {
				who = "me"
			}
			fmt.Printf("[%s] %s\n", who, e.Message.Text)
		case chat.EventNotice:
			fmt.Printf("-- %s --\n", e.Notice)
		case chat.EventClosed:
			fmt.Println("-- chat closed --")
		}
	})
	relay.SetOpen(true)
	go feedChat(ctx, relay, ch, roomID)

	// stdin -> chat
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			if _, err := relay.Send(text); err != nil {
				log.Warn("chat send failed", "err", err)
			}
		}
	}()

	select {
	case reason := <-ended:
		log.Info("call ended", "reason", reason)
	case <-ctx.Done():
		m.Close(context.Background(), "hangup")
	}
}

// chatTransport sends chat lines over the signaling channel so a probe can
// talk even before (or without) the data channel, e.g. in chat-only mode
// against a browser that never opened one.
type chatTransport struct {
	ch  *signal.WSChannel
	ctx context.Context
}

func (t chatTransport) Send(data []byte) error {
	return t.ch.Send(t.ctx, signal.Envelope{Kind: signal.KindChat, Payload: data})
}

// feedChat pipes inbound chat envelopes into the relay.
func feedChat(ctx context.Context, relay *chat.Relay, ch *signal.WSChannel, roomID string) {
	sub, err := ch.Join(ctx, roomID)
	if err != nil {
		return
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if env.Kind == signal.KindChat {
				relay.HandleIncoming(env.Payload)
			}
		}
	}
}
