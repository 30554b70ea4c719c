package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func envelope(id, room, from string, kind Kind) Envelope {
	return Envelope{
		ID:      id,
		RoomID:  room,
		From:    from,
		Kind:    kind,
		Payload: json.RawMessage(`{}`),
		SentAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func recvOne(t *testing.T, sub Subscription) Envelope {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestMemoryChannel_DeliversToRoomMembers(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	a, err := ch.Join(context.Background(), "session:1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	b, err := ch.Join(context.Background(), "session:1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	other, err := ch.Join(context.Background(), "session:2")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := ch.Send(context.Background(), envelope("m1", "session:1", "client-1", KindOffer)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := recvOne(t, a); got.ID != "m1" || got.Kind != KindOffer {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got := recvOne(t, b); got.ID != "m1" {
		t.Fatalf("unexpected envelope: %+v", got)
	}

	select {
	case e := <-other.C():
		t.Fatalf("room isolation violated: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryChannel_SuppressesDuplicates(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	sub, err := ch.Join(context.Background(), "session:1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	e := envelope("m1", "session:1", "client-1", KindCandidate)
	for i := 0; i < 3; i++ {
		if err := ch.Send(context.Background(), e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := ch.Send(context.Background(), envelope("m2", "session:1", "client-1", KindCandidate)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := recvOne(t, sub); got.ID != "m1" {
		t.Fatalf("expected m1, got %s", got.ID)
	}
	if got := recvOne(t, sub); got.ID != "m2" {
		t.Fatalf("expected m2 directly after deduped m1, got %s", got.ID)
	}
}

func TestMemoryChannel_RejectsMalformedEnvelope(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	if err := ch.Send(context.Background(), Envelope{RoomID: "session:1"}); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
	if err := ch.Send(context.Background(), envelope("m1", "session:1", "u", Kind("bogus"))); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestMemoryChannel_ClosedSubscriptionStopsDelivery(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	sub, err := ch.Join(context.Background(), "session:1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}

	// sending after the only member left must not panic
	if err := ch.Send(context.Background(), envelope("m1", "session:1", "u", KindHangup)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSeenWindow_EvictsOldest(t *testing.T) {
	w := newSeenWindow(2)
	if w.observe("a") {
		t.Fatalf("a should be new")
	}
	if w.observe("b") {
		t.Fatalf("b should be new")
	}
	if !w.observe("a") {
		t.Fatalf("a should be a duplicate")
	}
	if w.observe("c") {
		t.Fatalf("c should be new")
	}
	// "a" was the oldest entry and got evicted by "c"
	if w.observe("a") {
		t.Fatalf("a should have been evicted and count as new")
	}
	if !w.observe("c") {
		t.Fatalf("c should still be a duplicate")
	}
}
