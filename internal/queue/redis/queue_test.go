package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// fakeList emulates a Redis list for LPUSH/BRPOP/LLEN.
type fakeList struct {
	mu       sync.Mutex
	items    map[string][]string
	popErr   error
	emptyPop int
}

func newFakeList() *fakeList {
	return &fakeList{items: map[string][]string{}}
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		var s string
		switch tv := v.(type) {
		case []byte:
			s = string(tv)
		case string:
			s = tv
		}
		f.items[key] = append([]string{s}, f.items[key]...)
	}
	return goredis.NewIntResult(int64(len(f.items[key])), nil)
}

func (f *fakeList) BRPop(ctx context.Context, _ time.Duration, keys ...string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.popErr != nil {
		return goredis.NewStringSliceResult(nil, f.popErr)
	}
	key := keys[0]
	list := f.items[key]
	if len(list) == 0 {
		f.emptyPop++
		if err := ctx.Err(); err != nil {
			return goredis.NewStringSliceResult(nil, err)
		}
		return goredis.NewStringSliceResult(nil, goredis.Nil)
	}
	last := list[len(list)-1]
	f.items[key] = list[:len(list)-1]
	return goredis.NewStringSliceResult([]string{key, last}, nil)
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	list := newFakeList()
	q, err := New(list, Config{Key: "test:batches"})
	require.NoError(t, err)

	first := scrape.QueueItem{BatchID: "b1", Jobs: []scrape.JobRef{{ID: "j1", SourceURL: "https://a.test"}}, Submitted: 1}
	second := scrape.QueueItem{BatchID: "b2", Jobs: []scrape.JobRef{{ID: "j2", SourceURL: "https://b.test"}}, Submitted: 2}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	require.Len(t, list.items["test:batches"], 2)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	list := newFakeList()
	q, err := New(list, Config{PollTimeout: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	list.mu.Lock()
	defer list.mu.Unlock()
	require.Positive(t, list.emptyPop, "empty polls are retried")
}

func TestQueueDequeueErrors(t *testing.T) {
	t.Parallel()

	list := newFakeList()
	list.popErr = errors.New("connection refused")
	q, err := New(list, Config{})
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background())
	require.ErrorContains(t, err, "redis brpop")

	list = newFakeList()
	list.items[defaultKey] = []string{"{not json"}
	q, err = New(list, Config{})
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background())
	require.ErrorContains(t, err, "decode queue item")
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)
}
