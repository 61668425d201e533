package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("tracker.", 10)
	defer unsub()

	b.Emit(KindTrackerStatus, "running")

	select {
	case evt := <-ch:
		if evt.Kind != KindTrackerStatus {
			t.Errorf("got kind %q, want %s", evt.Kind, KindTrackerStatus)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Emit(KindNetOnline, nil)
	b.Emit(KindChatTyping, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindChatTyping {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatTyping)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Emit(KindNetOffline, nil)
	b.Emit(KindChatConnected, nil)

	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()
	unsub() // second call is a no-op

	b.Emit(KindChatMessage, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("net.", 1)
	defer unsub()

	b.Emit(KindNetOnline, nil)
	b.Emit(KindNetOffline, nil)

	evt := <-ch
	if evt.Kind != KindNetOnline {
		t.Errorf("got %q, want %s", evt.Kind, KindNetOnline)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Emit(KindNetOnline, nil)
}
