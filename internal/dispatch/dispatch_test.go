package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/storage"
	"carelink/pkg/logx"
)

type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	calls      []Message
	result     Result
	err        error
}

func (p *fakeProvider) Name() string     { return "fake" }
func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) Send(_ context.Context, msg Message) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	return p.result, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type memStore struct {
	mu      sync.Mutex
	entries []storage.DeliveryEntry
}

func (s *memStore) AppendDelivery(_ context.Context, e storage.DeliveryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) RecentDeliveries(_ context.Context, _ int) ([]storage.DeliveryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.DeliveryEntry(nil), s.entries...), nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) all() []storage.DeliveryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.DeliveryEntry(nil), s.entries...)
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"production":  ModeProduction,
		"PROD":        ModeProduction,
		"disabled":    ModeDisabled,
		"off":         ModeDisabled,
		"development": ModeDevelopment,
		"":            ModeDevelopment,
		"garbage":     ModeDevelopment,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDisabledModeHasNoSideEffects(t *testing.T) {
	p := &fakeProvider{configured: true, result: Result{Success: true}}
	st := &memStore{}
	d := New(Config{Mode: ModeDisabled}, map[notify.Kind]Provider{notify.KindSMS: p}, logx.Nop(), st, nil)

	res, err := d.Send(context.Background(), notify.NewSMS("+15550001", "hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success {
		t.Fatal("disabled mode should report success")
	}
	if p.callCount() != 0 {
		t.Fatalf("provider called %d times in disabled mode", p.callCount())
	}
	if len(st.all()) != 0 {
		t.Fatalf("disabled mode wrote %d delivery rows", len(st.all()))
	}
}

func TestDevelopmentModeRecordsWithoutDelivering(t *testing.T) {
	p := &fakeProvider{configured: true, result: Result{Success: true}}
	st := &memStore{}
	d := New(Config{Mode: ModeDevelopment}, map[notify.Kind]Provider{notify.KindSMS: p}, logx.Nop(), st, nil)

	res, err := d.Send(context.Background(), notify.NewSMS("+15550001", "hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success {
		t.Fatal("development mode should report success")
	}
	if p.callCount() != 0 {
		t.Fatal("provider must not be called in development mode")
	}

	entries := st.all()
	if len(entries) != 1 {
		t.Fatalf("want exactly 1 delivery row, got %d", len(entries))
	}
	if entries[0].Status != storage.StatusRecorded {
		t.Fatalf("status = %q, want %q", entries[0].Status, storage.StatusRecorded)
	}
	if entries[0].Mode != string(ModeDevelopment) {
		t.Fatalf("mode = %q", entries[0].Mode)
	}
}

func TestProductionDegradesWhenUnconfigured(t *testing.T) {
	p := &fakeProvider{configured: false}
	st := &memStore{}
	d := New(Config{Mode: ModeProduction}, map[notify.Kind]Provider{notify.KindSMS: p}, logx.Nop(), st, nil)

	res, err := d.Send(context.Background(), notify.NewSMS("+15550001", "hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success {
		t.Fatal("degraded send should report success")
	}
	if p.callCount() != 0 {
		t.Fatal("unconfigured provider must not be called")
	}
	entries := st.all()
	if len(entries) != 1 || entries[0].Status != storage.StatusRecorded {
		t.Fatalf("want one recorded row, got %+v", entries)
	}
}

func TestProductionSendSuccess(t *testing.T) {
	p := &fakeProvider{configured: true, result: Result{Success: true, ProviderID: "msg-42"}}
	st := &memStore{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	d := New(Config{Mode: ModeProduction}, map[notify.Kind]Provider{notify.KindEmail: p}, logx.Nop(), st, bus)

	env := notify.NewEmail("vol@example.org", "Shift reminder", "You are on shift tomorrow.")
	res, err := d.Send(context.Background(), env)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderID != "msg-42" {
		t.Fatalf("provider id = %q", res.ProviderID)
	}
	if p.callCount() != 1 {
		t.Fatalf("provider calls = %d", p.callCount())
	}
	got := p.calls[0]
	if got.To != "vol@example.org" || got.Subject != "Shift reminder" {
		t.Fatalf("provider message = %+v", got)
	}

	entries := st.all()
	if len(entries) != 1 || entries[0].Status != storage.StatusSent || entries[0].ProviderID != "msg-42" {
		t.Fatalf("delivery row = %+v", entries)
	}

	ev := <-events
	if ev.Type != eventbus.TypeSent {
		t.Fatalf("event type = %q", ev.Type)
	}
}

func TestProductionSendFailure(t *testing.T) {
	sendErr := errors.New("gateway down")
	p := &fakeProvider{configured: true, err: sendErr}
	st := &memStore{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	d := New(Config{Mode: ModeProduction}, map[notify.Kind]Provider{notify.KindSMS: p}, logx.Nop(), st, bus)

	_, err := d.Send(context.Background(), notify.NewSMS("+15550001", "hello"))
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("want *DeliveryError, got %v", err)
	}
	if !errors.Is(err, sendErr) {
		t.Fatal("DeliveryError should wrap the provider error")
	}

	entries := st.all()
	if len(entries) != 1 || entries[0].Status != storage.StatusFailed {
		t.Fatalf("delivery row = %+v", entries)
	}
	if entries[0].Error == "" {
		t.Fatal("failed row should carry the error string")
	}

	ev := <-events
	if ev.Type != eventbus.TypeFailed {
		t.Fatalf("event type = %q", ev.Type)
	}
}

func TestSendRejectsInvalidEnvelope(t *testing.T) {
	d := New(Config{Mode: ModeProduction}, nil, logx.Nop(), nil, nil)
	_, err := d.Send(context.Background(), notify.Envelope{ID: "x", Kind: notify.KindSMS})
	if !errors.Is(err, notify.ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := preview(long, 120)
	if len(got) != 120 {
		t.Fatalf("preview length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("preview should end with ellipsis: %q", got[len(got)-5:])
	}
	if preview("short", 120) != "short" {
		t.Fatal("short bodies must pass through unchanged")
	}
}
