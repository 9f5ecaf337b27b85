// Package queue buffers notification envelopes between producers
// (schedulers, request handlers) and the dispatcher.
//
// Two backends exist: a durable Redis Streams backend and an in-memory
// fallback. The choice is made once at startup by probing Redis; a
// process that starts on the memory backend stays there until restart,
// so mid-flight envelopes never straddle two backends.
package queue

import (
	"context"
	"errors"
	"time"

	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/runtime/supervisor"
	"carelink/pkg/logx"
)

const probeTimeout = 5 * time.Second

// ErrFull is returned by the memory backend when its buffer is
// exhausted. The envelope is dropped, not blocked on.
var ErrFull = errors.New("queue: buffer full")

// Handler processes one dequeued envelope. Errors are logged; the
// envelope is not redelivered.
type Handler func(ctx context.Context, env notify.Envelope) error

type Config struct {
	Address   string
	Password  string
	DB        int
	Stream    string
	ReadBlock time.Duration
	// MemoryBuffer bounds the fallback backend. Defaults to 1024.
	MemoryBuffer int
}

type backend interface {
	Name() string
	Enqueue(ctx context.Context, env notify.Envelope) (<-chan struct{}, error)
	// Run consumes envelopes until ctx is canceled. A non-nil return
	// other than ctx.Err() means the backend broke and should be
	// restarted by the caller.
	Run(ctx context.Context, h Handler) error
	Close() error
}

// Queue is the façade over whichever backend the probe selected.
type Queue struct {
	be      backend
	durable bool
	log     logx.Logger
	bus     eventbus.Bus
}

// New probes Redis at cfg.Address and picks a backend. Redis being down
// at startup is expected in small deployments; the queue degrades to
// memory with a warning rather than failing the process.
func New(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Stream == "" {
		cfg.Stream = "carelink:notifications"
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.MemoryBuffer <= 0 {
		cfg.MemoryBuffer = 1024
	}

	q := &Queue{log: log, bus: bus}

	if cfg.Address != "" {
		rb, err := newRedisBackend(ctx, cfg, log)
		if err == nil {
			log.Info("queue backend selected",
				logx.String("backend", rb.Name()),
				logx.String("stream", cfg.Stream))
			q.be = rb
			q.durable = true
			return q
		}
		log.Warn("redis unavailable, falling back to in-memory queue",
			logx.String("addr", cfg.Address),
			logx.Err(err))
	} else {
		log.Info("no redis address configured, using in-memory queue")
	}

	q.be = newMemoryBackend(cfg.MemoryBuffer)
	return q
}

// Durable reports whether envelopes survive a process restart.
func (q *Queue) Durable() bool { return q.durable }

// Enqueue accepts an envelope for asynchronous delivery. The returned
// channel closes when this process has finished handling the envelope;
// on the durable backend it closes immediately after the stream append,
// since delivery may happen in another process entirely.
func (q *Queue) Enqueue(ctx context.Context, env notify.Envelope) (<-chan struct{}, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	done, err := q.be.Enqueue(ctx, env)
	if err != nil {
		if errors.Is(err, ErrFull) && q.bus != nil {
			q.bus.Publish(eventbus.Event{Type: eventbus.TypeDropped, Data: env})
		}
		return nil, err
	}
	q.log.Debug("envelope queued",
		logx.String("envelope", env.ID),
		logx.String("kind", string(env.Kind)))
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeQueued, Data: env})
	}
	return done, nil
}

// Start launches the consumer under sup. Stream read failures restart
// the consumer on a fixed cadence instead of exponential backoff: the
// usual cause is a Redis blip, and a steady retry keeps recovery time
// predictable.
func (q *Queue) Start(sup *supervisor.Supervisor, h Handler) {
	wrapped := func(ctx context.Context, env notify.Envelope) error {
		if err := h(ctx, env); err != nil {
			q.log.Warn("envelope handler failed",
				logx.String("envelope", env.ID),
				logx.Err(err))
			return err
		}
		return nil
	}
	sup.GoRestart("queue-consumer", func(ctx context.Context) error {
		return q.be.Run(ctx, wrapped)
	}, supervisor.WithFixedRestartDelay(5*time.Second))
}

func (q *Queue) Close() error { return q.be.Close() }
