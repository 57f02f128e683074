package vault

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RescanQueue hands document paths from the watcher to the single rescan
// worker. A path already waiting is not enqueued twice, so a burst of edit
// events on one document collapses into one rescan.
type RescanQueue struct {
	ch           chan string
	pollInterval time.Duration
	mu           sync.Mutex
	pending      map[string]struct{}
}

func NewRescanQueue(capacity int) *RescanQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &RescanQueue{
		ch:           make(chan string, capacity),
		pollInterval: 10 * time.Millisecond,
		pending:      map[string]struct{}{},
	}
}

// TryEnqueue reports true when the path is queued or already waiting and
// false when the queue is full.
func (q *RescanQueue) TryEnqueue(doc string) bool {
	doc = strings.TrimSpace(doc)
	if q == nil || doc == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, waiting := q.pending[doc]; waiting {
		return true
	}
	select {
	case q.ch <- doc:
		q.pending[doc] = struct{}{}
		return true
	default:
		return false
	}
}

// Enqueue blocks until the path is queued or the context ends.
func (q *RescanQueue) Enqueue(ctx context.Context, doc string) bool {
	for {
		if q.TryEnqueue(doc) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *RescanQueue) Dequeue(ctx context.Context) (string, bool) {
	if q == nil {
		return "", false
	}
	select {
	case doc := <-q.ch:
		q.mu.Lock()
		delete(q.pending, doc)
		q.mu.Unlock()
		return doc, true
	case <-ctx.Done():
		return "", false
	}
}

func (q *RescanQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *RescanQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *RescanQueue) Close() error {
	return nil
}
