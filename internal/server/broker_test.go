package server

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBrokerFanOut(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	event := formatSSE("status", `{"jobId":"abc","status":"processing"}`)
	broker.broadcast(event)

	for i, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, string(event), string(got), "subscriber %d", i+1)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timed out waiting for event", i+1)
		}
	}

	// Unsubscribe ch1, broadcast again. Only ch2 receives.
	broker.Unsubscribe(ch1)
	event2 := formatSSE("status", `{"jobId":"abc","status":"completed"}`)
	broker.broadcast(event2)

	select {
	case got := <-ch2:
		assert.Equal(t, string(event2), string(got))
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	// ch1 is closed after unsubscribe.
	_, open := <-ch1
	assert.False(t, open)

	broker.Unsubscribe(ch2)
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	broker := &Broker{
		subscribers: make(map[chan []byte]struct{}),
		logger:      testLogger(),
	}

	ch := broker.Subscribe()

	// Fill past the buffer; broadcast must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			broker.broadcast(formatSSE("status", `{"jobId":"x","status":"processing"}`))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	// The subscriber still holds a full buffer of the earliest events.
	assert.Equal(t, 64, len(ch))
	broker.Unsubscribe(ch)
}

func TestFormatSSE(t *testing.T) {
	got := formatSSE("status", `{"jobId":"1","status":"completed"}`)
	assert.Equal(t, "event: status\ndata: {\"jobId\":\"1\",\"status\":\"completed\"}\n\n", string(got))
}
