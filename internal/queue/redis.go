package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carelink/internal/notify"
	"carelink/pkg/logx"
)

// Stream entry fields. "type" exists so operators can eyeball XRANGE
// output without decoding the JSON blob.
const (
	fieldType = "type"
	fieldData = "data"
)

type redisBackend struct {
	rdb       *redis.Client
	stream    string
	readBlock time.Duration
	log       logx.Logger
}

func newRedisBackend(ctx context.Context, cfg Config, log logx.Logger) (*redisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("probe redis: %w", err)
	}

	return &redisBackend{
		rdb:       rdb,
		stream:    cfg.Stream,
		readBlock: cfg.ReadBlock,
		log:       log,
	}, nil
}

func (b *redisBackend) Name() string { return "redis-streams" }

func (b *redisBackend) Enqueue(ctx context.Context, env notify.Envelope) (<-chan struct{}, error) {
	values, err := streamValues(env)
	if err != nil {
		return nil, err
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: values,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd %s: %w", b.stream, err)
	}
	// Durable path: the append is the commit point. This process may
	// not be the one that delivers.
	done := make(chan struct{})
	close(done)
	return done, nil
}

// Run reads the stream from the beginning so envelopes enqueued while
// the process was down are drained on startup. Entries are deleted
// after handling whether delivery succeeded or not; the delivery log is
// the failure record, the stream is not a retry mechanism.
func (b *redisBackend) Run(ctx context.Context, h Handler) error {
	lastID := "0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   16,
			Block:   b.readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xread %s: %w", b.stream, err)
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				env, derr := envelopeFromStream(msg.Values)
				if derr != nil {
					b.log.Warn("skipping undecodable stream entry",
						logx.String("id", msg.ID),
						logx.Err(derr))
				} else {
					_ = h(ctx, env)
				}
				if err := b.rdb.XDel(ctx, b.stream, msg.ID).Err(); err != nil && ctx.Err() == nil {
					b.log.Warn("xdel failed",
						logx.String("id", msg.ID),
						logx.Err(err))
				}
			}
		}
	}
}

func (b *redisBackend) Close() error { return b.rdb.Close() }

func streamValues(env notify.Envelope) (map[string]any, error) {
	data, err := env.Encode()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		fieldType: string(env.Kind),
		fieldData: string(data),
	}, nil
}

func envelopeFromStream(values map[string]any) (notify.Envelope, error) {
	raw, ok := values[fieldData].(string)
	if !ok {
		return notify.Envelope{}, fmt.Errorf("stream entry missing %q field", fieldData)
	}
	return notify.Decode([]byte(raw))
}
