package signal

import (
	"context"
	"sync"
)

// MemoryChannel is a process-local signaling bus for tests and
// single-instance runs.
type MemoryChannel struct {
	mu     sync.Mutex
	rooms  map[string][]*memorySub
	closed bool
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{rooms: make(map[string][]*memorySub)}
}

type memorySub struct {
	ch     *MemoryChannel
	roomID string
	out    chan Envelope
	seen   *seenWindow
	once   sync.Once
}

func (s *memorySub) C() <-chan Envelope { return s.out }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		if s.ch != nil {
			s.ch.detach(s)
		}
		close(s.out)
	})
	return nil
}

func (c *MemoryChannel) Join(ctx context.Context, roomID string) (Subscription, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelUnavailable
	}
	sub := &memorySub{
		ch:     c,
		roomID: roomID,
		out:    make(chan Envelope, 64),
		seen:   newSeenWindow(256),
	}
	c.rooms[roomID] = append(c.rooms[roomID], sub)
	return sub, nil
}

func (c *MemoryChannel) Send(ctx context.Context, e Envelope) error {
	_ = ctx
	if !e.valid() {
		return ErrChannelUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelUnavailable
	}
	for _, sub := range c.rooms[e.RoomID] {
		if sub.seen.observe(e.ID) {
			continue
		}
		select {
		case sub.out <- e:
		default:
			// slow consumer: drop rather than block the room
		}
	}
	return nil
}

// Close shuts the bus; all subscriptions close.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	subs := make([]*memorySub, 0)
	for _, ss := range c.rooms {
		subs = append(subs, ss...)
	}
	c.rooms = make(map[string][]*memorySub)
	c.closed = true
	c.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.out) })
	}
	return nil
}

func (c *MemoryChannel) detach(sub *memorySub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss := c.rooms[sub.roomID]
	for i, s := range ss {
		if s == sub {
			c.rooms[sub.roomID] = append(ss[:i], ss[i+1:]...)
			break
		}
	}
	if len(c.rooms[sub.roomID]) == 0 {
		delete(c.rooms, sub.roomID)
	}
}
