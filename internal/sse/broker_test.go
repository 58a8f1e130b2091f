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

	b.Publish(Event{Type: "document.rewritten", Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.rewritten") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishDocumentEvent_TreeThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First rewrite triggers tree.changed, the second is throttled.
	b.PublishDocumentEvent(KindRewritten, "a.md", "")
	b.PublishDocumentEvent(KindRewritten, "b.md", "")

	time.Sleep(50 * time.Millisecond)
	treeCount := 0
	docCount := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "tree.changed") {
			treeCount++
		} else {
			docCount++
		}
	}

	if docCount != 2 {
		t.Errorf("document events = %d, want 2", docCount)
	}
	if treeCount != 1 {
		t.Errorf("tree events = %d, want 1 (throttled)", treeCount)
	}
}

func TestPublishDocumentEvent_Failed(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent(KindFailed, "bin.md", "decode")
	b.PublishDocumentEvent("unknown", "x.md", "")

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 1 {
		t.Fatalf("messages = %q, want only the failure", msgs)
	}
	if !strings.Contains(msgs[0], "event: document.failed") || !strings.Contains(msgs[0], `"error":"decode"`) {
		t.Errorf("message = %q", msgs[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
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

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "run.finished", Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: run.finished") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "run.finished", Data: map[string]string{"path": "x.md"}})
	b.PublishDocumentEvent(KindRewritten, "x.md", "")
}

func TestEventIDsIncrease(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "run.finished", Data: map[string]int{"run_id": 1}})
	b.Publish(Event{Type: "run.finished", Data: map[string]int{"run_id": 2}})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 1\n") || !strings.HasPrefix(msgs[1], "id: 2\n") {
		t.Errorf("unexpected ids: %q", msgs)
	}
}

func TestSubscribeFromReplaysBacklog(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	seen := b.Subscribe()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "run.finished", Data: map[string]int{"run_id": i + 1}})
	}
	waitFor(t, seen, 3)

	ch := b.SubscribeFrom(1)
	defer b.Unsubscribe(ch)

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("replayed = %q, want ids 2 and 3", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 2\n") || !strings.HasPrefix(msgs[1], "id: 3\n") {
		t.Errorf("replayed = %q", msgs)
	}

	fresh := b.Subscribe()
	defer b.Unsubscribe(fresh)
	time.Sleep(20 * time.Millisecond)
	if got := drain(fresh); len(got) != 0 {
		t.Errorf("plain subscribe replayed %q", got)
	}
}

func TestSSEHandler_LastEventID(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	seen := b.Subscribe()
	b.Publish(Event{Type: "run.finished", Data: map[string]int{"run_id": 1}})
	b.Publish(Event{Type: "run.finished", Data: map[string]int{"run_id": 2}})
	waitFor(t, seen, 2)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, `"run_id":1`) || !strings.Contains(body, `"run_id":2`) {
		t.Errorf("body = %q", body)
	}
}

// waitFor blocks until ch has delivered n messages, so the broker loop is
// known to have handled the matching publishes.
func waitFor(t *testing.T, ch chan []byte, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d messages", i, n)
		}
	}
}
