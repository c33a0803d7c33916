package stream

import (
	"testing"
	"time"
)

func TestBroadcasterDeliversToRegisteredClient(t *testing.T) {
	b := NewBroadcaster()
	ch := make(chan OutputChunk, 1)
	b.RegisterClient("s1", ch)

	chunk := OutputChunk{SessionID: "s1", Text: "hello", Timestamp: time.Now()}
	b.Publish(chunk)

	select {
	case got := <-ch:
		if got.Text != "hello" {
			t.Fatalf("expected hello, got %q", got.Text)
		}
	default:
		t.Fatal("expected chunk to be delivered")
	}
}

func TestBroadcasterDropIncreasesMetrics(t *testing.T) {
	b := NewBroadcaster()
	ch := make(chan OutputChunk, 1)
	b.RegisterClient("s1", ch)

	b.Publish(OutputChunk{SessionID: "s1", Text: "one"})
	b.Publish(OutputChunk{SessionID: "s1", Text: "two"}) // dropped, buffer full
	b.Publish(OutputChunk{SessionID: "s1", Text: "three"}) // dropped

	metrics := b.GetMetrics()
	if metrics.DroppedEvents != 2 {
		t.Fatalf("expected 2 dropped events, got %d", metrics.DroppedEvents)
	}
	if metrics.DropsPerSession["s1"] != 2 {
		t.Fatalf("expected 2 drops for s1, got %d", metrics.DropsPerSession["s1"])
	}

	first := <-ch
	if first.Text != "one" {
		t.Fatalf("expected first buffered chunk to be 'one', got %q", first.Text)
	}
}

func TestUnregisterClientDoesNotCorruptSnapshot(t *testing.T) {
	b := NewBroadcaster()
	ch1 := make(chan OutputChunk, 10)
	ch2 := make(chan OutputChunk, 10)
	ch3 := make(chan OutputChunk, 10)
	b.RegisterClient("s1", ch1)
	b.RegisterClient("s1", ch2)
	b.RegisterClient("s1", ch3)

	before := b.loadClients()["s1"]
	if len(before) != 3 {
		t.Fatalf("expected 3 clients, got %d", len(before))
	}

	b.UnregisterClient("s1", ch2)

	if len(before) != 3 {
		t.Fatalf("COW violated: snapshot mutated, now has %d", len(before))
	}
	after := b.loadClients()["s1"]
	if len(after) != 2 {
		t.Fatalf("expected 2 clients after unregister, got %d", len(after))
	}
	if after[0] != ch1 || after[1] != ch3 {
		t.Fatal("unexpected remaining clients after unregister")
	}
}

func TestBroadcasterDropsMissingSessionID(t *testing.T) {
	b := NewBroadcaster()
	ch := make(chan OutputChunk, 1)
	b.RegisterClient("s1", ch)

	b.Publish(OutputChunk{SessionID: "", Text: "no session"})

	select {
	case <-ch:
		t.Fatal("expected no delivery for missing session id")
	default:
	}
}

func TestBroadcasterGetSubscriberCount(t *testing.T) {
	b := NewBroadcaster()
	if got := b.GetSubscriberCount("s1"); got != 0 {
		t.Fatalf("expected 0 subscribers before registration, got %d", got)
	}
	ch1 := make(chan OutputChunk, 1)
	ch2 := make(chan OutputChunk, 1)
	b.RegisterClient("s1", ch1)
	b.RegisterClient("s1", ch2)
	if got := b.GetSubscriberCount("s1"); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}
}

func TestBroadcasterSubscribeAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	sub, unsubscribe := b.Subscribe("s1", 1)
	if sub.SessionID() != "s1" {
		t.Fatalf("expected subscription session id 's1', got %q", sub.SessionID())
	}
	if got := b.GetSubscriberCount("s1"); got != 1 {
		t.Fatalf("expected 1 subscriber after Subscribe, got %d", got)
	}

	b.Publish(OutputChunk{SessionID: "s1", Text: "hello"})
	select {
	case got := <-sub.Channel():
		if got.Text != "hello" {
			t.Fatalf("expected hello, got %q", got.Text)
		}
	default:
		t.Fatal("expected chunk delivered to subscription channel")
	}

	unsubscribe()
	if got := b.GetSubscriberCount("s1"); got != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", got)
	}
}

func TestBroadcasterGlobalSessionFansOutToAll(t *testing.T) {
	b := NewBroadcaster()
	ch1 := make(chan OutputChunk, 1)
	ch2 := make(chan OutputChunk, 1)
	b.RegisterClient("s1", ch1)
	b.RegisterClient("s2", ch2)
	b.RegisterClient(globalSessionID, ch1)
	b.RegisterClient(globalSessionID, ch2)

	b.Publish(OutputChunk{SessionID: globalSessionID, Text: "broadcast"})

	for i, ch := range []chan OutputChunk{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Text != "broadcast" {
				t.Fatalf("client %d: unexpected text %q", i, got.Text)
			}
		default:
			t.Fatalf("client %d: expected broadcast chunk", i)
		}
	}
}
