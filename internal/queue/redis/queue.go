// Package redis provides a Redis list-backed batch queue shared by API
// replicas and workers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

const defaultKey = "media-scraper:batches"

// Config controls the queue key and blocking poll window.
type Config struct {
	Key         string
	PollTimeout time.Duration
}

// listClient is the subset of the go-redis client the queue needs.
type listClient interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
}

// Queue pushes JSON-encoded items with LPUSH and pops them with BRPOP, so
// items are consumed in FIFO order. Items popped by a worker that then dies
// are lost.
type Queue struct {
	client      listClient
	key         string
	pollTimeout time.Duration
}

// New builds a Queue on top of an existing client.
func New(client listClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Queue{client: client, key: cfg.Key, pollTimeout: cfg.PollTimeout}, nil
}

// Enqueue appends an item to the list.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available or ctx ends. Empty poll windows
// are retried transparently.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return scrape.QueueItem{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return scrape.QueueItem{}, fmt.Errorf("redis brpop: unexpected reply of %d elements", len(res))
		}
		var item scrape.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return scrape.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}
