package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "memory.appended", Data: map[string]string{"entry_id": "abc"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: memory.appended") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"entry_id":"abc"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishMemoryEvent_StatsThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger stats.updated; the second, inside the
	// throttle window, should not.
	b.PublishMemoryEvent("appended", "a", "alice")
	b.PublishMemoryEvent("promoted", "b", "alice")

	time.Sleep(50 * time.Millisecond)
	statsCount := 0
	memoryCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "stats.updated") {
				statsCount++
			} else {
				memoryCount++
			}
		default:
			break loop
		}
	}

	if memoryCount != 2 {
		t.Errorf("memory events = %d, want 2", memoryCount)
	}
	if statsCount != 1 {
		t.Errorf("stats events = %d, want 1 (throttled)", statsCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "memory.indexed", Data: map[string]string{}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: memory.indexed") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	// Safe no-ops after close.
	b.Publish(Event{Type: "memory.appended", Data: nil})
	b.PublishMemoryEvent("appended", "x", "alice")
	if b.ClientCount() != 0 {
		t.Errorf("clients after close = %d", b.ClientCount())
	}
}
