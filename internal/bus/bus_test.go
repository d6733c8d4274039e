package bus

import (
	"sync"
	"testing"
)

type testLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *testLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

// ─────────────────────────────────────────────────────────────────────────────
// Fan-out
// ─────────────────────────────────────────────────────────────────────────────

func TestPublishFanOut(t *testing.T) {
	b := New(nil)

	var got []int
	b.Subscribe("test.event", func(_ string, _ any) { got = append(got, 1) })
	b.Subscribe("test.event", func(_ string, _ any) { got = append(got, 2) })
	b.Subscribe("other.event", func(_ string, _ any) { got = append(got, 3) })

	b.Publish("test.event", nil)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected handlers [1 2] invoked in order, got %v", got)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New(nil)
	// Must not panic or block.
	b.Publish("nobody.listening", "payload")
}

func TestPublishPayloadDelivered(t *testing.T) {
	b := New(nil)

	var gotTopic string
	var gotPayload any
	b.Subscribe("shadow.updated", func(topic string, payload any) {
		gotTopic = topic
		gotPayload = payload
	})

	b.Publish("shadow.updated", map[string]any{"device_id": "light-1"})

	if gotTopic != "shadow.updated" {
		t.Errorf("expected topic shadow.updated, got %q", gotTopic)
	}
	m, ok := gotPayload.(map[string]any)
	if !ok || m["device_id"] != "light-1" {
		t.Errorf("unexpected payload: %v", gotPayload)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Panic Isolation
// ─────────────────────────────────────────────────────────────────────────────

func TestHandlerPanicDoesNotSuppressOthers(t *testing.T) {
	logger := &testLogger{}
	b := New(logger)

	secondRan := false
	b.Subscribe("test.event", func(_ string, _ any) { panic("handler exploded") })
	b.Subscribe("test.event", func(_ string, _ any) { secondRan = true })

	b.Publish("test.event", nil)

	if !secondRan {
		t.Error("second handler should run despite first handler panicking")
	}
	if len(logger.errors) != 1 {
		t.Errorf("expected 1 logged panic, got %d", len(logger.errors))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Misc
// ─────────────────────────────────────────────────────────────────────────────

func TestSubscribeNilHandlerIgnored(t *testing.T) {
	b := New(nil)
	b.Subscribe("test.event", nil)

	if count := b.HandlerCount("test.event"); count != 0 {
		t.Errorf("expected 0 handlers, got %d", count)
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Subscribe("race.event", func(_ string, _ any) {})
		}()
		go func() {
			defer wg.Done()
			b.Publish("race.event", nil)
		}()
	}
	wg.Wait()

	if count := b.HandlerCount("race.event"); count != 10 {
		t.Errorf("expected 10 handlers, got %d", count)
	}
}
