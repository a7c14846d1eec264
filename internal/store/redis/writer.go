// Package redis is the hot tier: latest-value keys with short TTLs plus
// pub/sub fanout for external dashboards. Everything here is best-effort;
// the durable tier is sqlite.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickerwatch/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	quoteTTL    = 30 * time.Second
	snapshotTTL = 5 * time.Minute
	strategyTTL = 10 * time.Minute
)

// WriterConfig configures the hot-tier client.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes latest quotes, indicator snapshots, and strategy results.
type Writer struct {
	client *goredis.Client
}

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Client returns the underlying client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// writeQuote SETs the latest quote and publishes it, in one pipeline.
func (w *Writer) writeQuote(ctx context.Context, q *model.Quote) error {
	jsonData := string(q.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "quote:latest:"+q.Symbol, jsonData, quoteTTL)
	pipe.Publish(ctx, "pub:quote:"+q.Symbol, jsonData)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("quote pipeline for %s: %w", q.Symbol, err)
	}
	return nil
}

// writeSnapshot SETs the latest indicator snapshot and publishes it.
func (w *Writer) writeSnapshot(ctx context.Context, snap *model.IndicatorSnapshot) error {
	jsonData := string(snap.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "ind:latest:"+snap.Symbol, jsonData, snapshotTTL)
	pipe.Publish(ctx, "pub:ind:"+snap.Symbol, jsonData)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("snapshot pipeline for %s: %w", snap.Symbol, err)
	}
	return nil
}

// writeStrategy SETs the latest result for (symbol, name) and publishes it.
func (w *Writer) writeStrategy(ctx context.Context, r *model.StrategyResult) error {
	jsonData := string(r.Data)

	pipe := w.client.Pipeline()
	pipe.Set(ctx, "strat:latest:"+r.Name+":"+r.Symbol, jsonData, strategyTTL)
	pipe.Publish(ctx, "pub:strat:"+r.Name+":"+r.Symbol, jsonData)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("strategy pipeline for %s/%s: %w", r.Symbol, r.Name, err)
	}
	return nil
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
