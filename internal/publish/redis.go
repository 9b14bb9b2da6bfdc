// Package publish emits crawl-completion events onto a Redis stream so
// downstream consumers can react to fresh snapshots without polling the
// snapshot directory.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Old events are trimmed away; consumers that lag more than this are
// expected to rescan the snapshot directory instead.
const streamMaxLen = 1024

// CrawlEvent is the payload appended after a crawl run.
type CrawlEvent struct {
	RunID      string
	CapturedAt time.Time
	Categories int
	Products   int
	Errors     int
	Duration   time.Duration
}

// Publisher appends crawl events to a Redis stream. A nil *Publisher is
// a no-op, so callers wire it unconditionally and only construct it when
// Redis is configured.
type Publisher struct {
	client *redis.Client
	stream string
	log    zerolog.Logger
}

func NewRedis(addr string, db int, stream string, log zerolog.Logger) *Publisher {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &Publisher{client: client, stream: stream, log: log}
}

func (p *Publisher) Publish(ctx context.Context, ev CrawlEvent) error {
	if p == nil {
		return nil
	}
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"run_id":      ev.RunID,
			"captured_at": ev.CapturedAt.UTC().Format(time.RFC3339),
			"categories":  ev.Categories,
			"products":    ev.Products,
			"errors":      ev.Errors,
			"duration_ms": ev.Duration.Milliseconds(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish crawl event: %w", err)
	}
	p.log.Info().
		Str("stream", p.stream).
		Str("run_id", ev.RunID).
		Int("products", ev.Products).
		Msg("crawl event published")
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
