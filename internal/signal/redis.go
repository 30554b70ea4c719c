package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChannel carries signaling over redis pub/sub so participants can land
// on different API instances. One redis channel per room.
type RedisChannel struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisChannel(rdb *redis.Client, log *slog.Logger) *RedisChannel {
	if log == nil {
		log = slog.Default()
	}
	return &RedisChannel{rdb: rdb, log: log}
}

func topic(roomID string) string { return "signal:" + roomID }

func (c *RedisChannel) Send(ctx context.Context, e Envelope) error {
	if !e.valid() {
		return fmt.Errorf("malformed envelope")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, topic(e.RoomID), raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

func (c *RedisChannel) Join(ctx context.Context, roomID string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, topic(roomID))
	// force the SUBSCRIBE round-trip so a dead redis fails here, not later
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	sub := &redisSub{
		ps:   ps,
		out:  make(chan Envelope, 64),
		seen: newSeenWindow(256),
		log:  c.log,
	}
	go sub.pump(roomID)
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Envelope
	seen *seenWindow
	log  *slog.Logger
	once sync.Once
}

func (s *redisSub) C() <-chan Envelope { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) pump(roomID string) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var e Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil || !e.valid() {
			// malformed messages are dropped, never crash the room
			s.log.Warn("signal: dropping malformed message", "room_id", roomID, "error", err)
			continue
		}
		if s.seen.observe(e.ID) {
			continue
		}
		select {
		case s.out <- e:
		default:
			s.log.Warn("signal: dropping message for slow consumer",
				"room_id", roomID, "kind", e.Kind)
		}
	}
}
