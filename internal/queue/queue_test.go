package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/runtime/supervisor"
	"carelink/pkg/logx"
)

func TestMemoryBackendDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := newMemoryBackend(16)

	var mu sync.Mutex
	var got []string
	go func() {
		_ = be.Run(ctx, func(_ context.Context, env notify.Envelope) error {
			mu.Lock()
			got = append(got, env.SMS.Body)
			mu.Unlock()
			return nil
		})
	}()

	var dones []<-chan struct{}
	for _, body := range []string{"one", "two", "three"} {
		done, err := be.Enqueue(ctx, notify.NewSMS("+15550001", body))
		if err != nil {
			t.Fatalf("Enqueue(%q): %v", body, err)
		}
		dones = append(dones, done)
	}

	for i, done := range dones {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("envelope %d not handled in time", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("handled %d envelopes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryBackendDropsWhenFull(t *testing.T) {
	be := newMemoryBackend(1)
	ctx := context.Background()

	if _, err := be.Enqueue(ctx, notify.NewSMS("+15550001", "fits")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	// No consumer running; the buffer is now full.
	_, err := be.Enqueue(ctx, notify.NewSMS("+15550001", "dropped"))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("want ErrFull, got %v", err)
	}
}

func TestQueueFallsBackToMemory(t *testing.T) {
	q := New(context.Background(), Config{}, logx.Nop(), nil)
	if q.Durable() {
		t.Fatal("queue without redis must not claim durability")
	}
	if q.be.Name() != "memory" {
		t.Fatalf("backend = %q", q.be.Name())
	}
}

func TestQueuePublishesQueuedEvent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	q := New(context.Background(), Config{}, logx.Nop(), bus)
	if _, err := q.Enqueue(context.Background(), notify.NewSMS("+15550001", "hi")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeQueued {
			t.Fatalf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no queued event published")
	}
}

func TestQueueRejectsInvalidEnvelope(t *testing.T) {
	q := New(context.Background(), Config{}, logx.Nop(), nil)
	_, err := q.Enqueue(context.Background(), notify.Envelope{ID: "x", Kind: notify.KindSMS})
	if !errors.Is(err, notify.ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}
}

func TestQueueConsumerUnderSupervisor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(ctx, supervisor.WithLogger(logx.Nop()))
	q := New(ctx, Config{}, logx.Nop(), nil)

	handled := make(chan string, 4)
	q.Start(sup, func(_ context.Context, env notify.Envelope) error {
		handled <- env.ID
		return nil
	})

	env := notify.NewSMS("+15550001", "hello")
	done, err := q.Enqueue(ctx, env)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case id := <-handled:
		if id != env.ID {
			t.Fatalf("handled %q, want %q", id, env.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not handle the envelope")
	}
	<-done

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := sup.Stop(stopCtx); err != nil {
		t.Fatalf("supervisor stop: %v", err)
	}
}

func TestStreamCodecRoundTrip(t *testing.T) {
	env := notify.NewEmail("vol@example.org", "Shift", "See you at 9.")

	values, err := streamValues(env)
	if err != nil {
		t.Fatalf("streamValues: %v", err)
	}
	if values[fieldType] != "email" {
		t.Fatalf("type field = %v", values[fieldType])
	}

	got, err := envelopeFromStream(values)
	if err != nil {
		t.Fatalf("envelopeFromStream: %v", err)
	}
	if got.ID != env.ID || got.Email == nil || got.Email.Subject != "Shift" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEnvelopeFromStreamMissingData(t *testing.T) {
	if _, err := envelopeFromStream(map[string]any{fieldType: "sms"}); err == nil {
		t.Fatal("want error for entry without data field")
	}
}
