package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/presence"
)

type capturingHandler struct {
	mu     sync.Mutex
	events []presence.Event
}

func (h *capturingHandler) HandleEvent(ctx context.Context, ev presence.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *capturingHandler) snapshot() []presence.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]presence.Event(nil), h.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRedisSourceDeliversClassifiedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	handler := &capturingHandler{}
	src := NewRedis(client, "presence.events", handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	// Give the subscription a moment to establish before publishing.
	waitFor(t, func() bool {
		return client.PubSubNumSub(context.Background(), "presence.events").Val()["presence.events"] > 0
	})

	payload := `{"user_id":"u1","username":"alice","previous_status":"offline","new_status":"online","timestamp":"2024-03-15T10:00:00Z"}`
	if err := client.Publish(context.Background(), "presence.events", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// A malformed payload must be dropped without breaking the stream.
	if err := client.Publish(context.Background(), "presence.events", "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.Publish(context.Background(), "presence.events", `{"user_id":"u1","username":"alice","previous_status":"online","new_status":"idle"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(handler.snapshot()) == 2 })

	events := handler.snapshot()
	first := events[0]
	if first.UserID != "u1" || first.Previous != presence.StatusOffline || first.Current != presence.StatusOnline {
		t.Fatalf("first event = %+v", first)
	}
	if !first.At.Equal(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("first event time = %v", first.At)
	}

	second := events[1]
	if second.Previous != presence.StatusOnline || second.Current != presence.StatusIdle {
		t.Fatalf("second event = %+v", second)
	}
	if second.At.IsZero() {
		t.Fatal("missing timestamp should default to receipt time")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}
}
