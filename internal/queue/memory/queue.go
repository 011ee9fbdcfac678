// Package memory provides an in-process batch queue for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan scrape.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan scrape.QueueItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	select {
	case <-ctx.Done():
		return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scrape.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Blocked producers are
// released by their contexts before Close can take the lock.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
