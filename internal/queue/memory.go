package queue

import (
	"context"
	"sync"

	"carelink/internal/notify"
)

type memItem struct {
	env  notify.Envelope
	done chan struct{}
}

// memoryBackend is the non-durable fallback. Enqueue never blocks: a
// full buffer drops the envelope with ErrFull instead of stalling a
// request handler.
type memoryBackend struct {
	ch chan memItem

	mu     sync.Mutex
	closed bool
}

func newMemoryBackend(buffer int) *memoryBackend {
	return &memoryBackend{ch: make(chan memItem, buffer)}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) Enqueue(ctx context.Context, env notify.Envelope) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrFull
	}
	it := memItem{env: env, done: make(chan struct{})}
	select {
	case b.ch <- it:
		return it.done, nil
	default:
		return nil, ErrFull
	}
}

func (b *memoryBackend) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it := <-b.ch:
			_ = h(ctx, it.env)
			close(it.done)
		}
	}
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
