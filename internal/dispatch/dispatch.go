// Package dispatch routes notification envelopes to their delivery
// channel, governed by a process-wide delivery mode:
//
//   - Production: real provider sends (degrading to logging-only when
//     credentials are missing)
//   - Development: every send is logged and recorded, never delivered
//   - Disabled: sends succeed silently with no side effect at all
//
// The mode is fixed when the Dispatcher is constructed; there are no
// runtime transitions.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/storage"
	"carelink/pkg/logx"
)

// Mode is the process-wide delivery switch.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
	ModeDisabled    Mode = "disabled"
)

// ParseMode maps a config string to a Mode. Anything unrecognized falls
// back to Development: a typo in config must never cause real deliveries.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return ModeProduction
	case "disabled", "off":
		return ModeDisabled
	default:
		return ModeDevelopment
	}
}

// Result is the outcome of a send as seen by the immediate caller.
type Result struct {
	Success    bool
	ProviderID string
}

// DeliveryError is returned when a provider reports a failure in
// Production mode. It is surfaced to the caller and not retried here;
// retry policy belongs to the caller or an explicit requeue.
type DeliveryError struct {
	Kind     notify.Kind
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s (%s) failed: %v", e.Provider, string(e.Kind), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Message is the uniform payload handed to a provider. Callers never
// branch on a specific vendor.
type Message struct {
	To      string
	Subject string // empty for SMS
	Body    string
}

// Provider is the capability interface over a concrete SMS/email vendor.
type Provider interface {
	Name() string
	// Configured reports whether the provider has the credentials it
	// needs. Unconfigured providers cause Production sends to degrade to
	// logging-only instead of failing.
	Configured() bool
	Send(ctx context.Context, msg Message) (Result, error)
}

type Config struct {
	Mode       Mode
	PreviewLen int // max body length echoed into logs; default 120
	RatePerSec int // provider call budget; default 5
}

// Dispatcher owns the delivery mode and the per-channel providers.
// It is safe for concurrent use.
type Dispatcher struct {
	mode       Mode
	previewLen int

	providers map[notify.Kind]Provider
	limiter   *rate.Limiter

	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
}

func New(cfg Config, providers map[notify.Kind]Provider, log logx.Logger, store storage.Store, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = 120
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if providers == nil {
		providers = map[notify.Kind]Provider{}
	}
	return &Dispatcher{
		mode:       cfg.Mode,
		previewLen: cfg.PreviewLen,
		providers:  providers,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:        log,
		store:      store,
		bus:        bus,
	}
}

func (d *Dispatcher) Mode() Mode { return d.mode }

// Send delivers (or simulates delivering) one envelope according to the
// delivery mode. Degraded paths return success; only a Production
// provider failure produces an error.
func (d *Dispatcher) Send(ctx context.Context, env notify.Envelope) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, err
	}
	if d.mode == ModeDisabled {
		return Result{Success: true}, nil
	}

	start := time.Now()

	if d.mode == ModeDevelopment {
		d.recordOnly(ctx, env, "development mode", start)
		return Result{Success: true}, nil
	}

	// Production.
	p := d.providers[env.Kind]
	if p == nil || !p.Configured() {
		// Deliberate policy: never block the caller on missing config.
		d.recordOnly(ctx, env, "provider not configured", start)
		return Result{Success: true}, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	msg := Message{To: env.Recipient(), Body: env.Body()}
	if env.Email != nil {
		msg.Subject = env.Email.Subject
	}

	res, err := p.Send(ctx, msg)
	took := time.Since(start)
	if err != nil {
		derr := &DeliveryError{Kind: env.Kind, Provider: p.Name(), Err: err}
		d.log.Warn("delivery failed",
			logx.String("envelope", env.ID),
			logx.String("kind", string(env.Kind)),
			logx.String("provider", p.Name()),
			logx.Err(err))
		d.persist(ctx, env, storage.StatusFailed, "", derr.Error(), took)
		d.publish(eventbus.TypeFailed, env, derr.Error())
		return Result{}, derr
	}

	d.log.Info("delivery sent",
		logx.String("envelope", env.ID),
		logx.String("kind", string(env.Kind)),
		logx.String("provider", p.Name()),
		logx.String("provider_id", res.ProviderID),
		logx.Duration("took", took))
	d.persist(ctx, env, storage.StatusSent, res.ProviderID, "", took)
	d.publish(eventbus.TypeSent, env, "")
	return res, nil
}

// recordOnly implements the logged-but-not-delivered path shared by
// Development mode and credential-less Production.
func (d *Dispatcher) recordOnly(ctx context.Context, env notify.Envelope, reason string, start time.Time) {
	d.log.Info("delivery recorded",
		logx.String("envelope", env.ID),
		logx.String("kind", string(env.Kind)),
		logx.String("to", env.Recipient()),
		logx.String("reason", reason),
		logx.String("preview", preview(env.Body(), d.previewLen)))
	d.persist(ctx, env, storage.StatusRecorded, "", "", time.Since(start))
	d.publish(eventbus.TypeSent, env, "")
}

func (d *Dispatcher) persist(ctx context.Context, env notify.Envelope, status, providerID, errStr string, took time.Duration) {
	if d.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(withoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := d.store.AppendDelivery(wctx, storage.DeliveryEntry{
		At:         time.Now(),
		EnvelopeID: env.ID,
		Kind:       string(env.Kind),
		Recipient:  env.Recipient(),
		Mode:       string(d.mode),
		Status:     status,
		ProviderID: providerID,
		Error:      errStr,
		TookMS:     took.Milliseconds(),
	})
	if err != nil {
		d.log.Debug("delivery log append failed", logx.Err(err))
	}
}

func (d *Dispatcher) publish(typ string, env notify.Envelope, errStr string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: DeliveryEvent{
		EnvelopeID: env.ID,
		Kind:       string(env.Kind),
		Recipient:  env.Recipient(),
		Error:      errStr,
	}})
}

// DeliveryEvent is the bus payload for sent/failed events.
type DeliveryEvent struct {
	EnvelopeID string `json:"envelope_id"`
	Kind       string `json:"kind"`
	Recipient  string `json:"recipient"`
	Error      string `json:"error,omitempty"`
}

func preview(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 4 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}

// withoutCancel keeps the delivery-log write alive even when the
// triggering context has just been canceled during shutdown.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
