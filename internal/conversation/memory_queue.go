package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dedupeWindow matches the SQS FIFO deduplication interval.
const dedupeWindow = 5 * time.Minute

// MemoryQueue is an in-process queueClient for running the API and the worker
// in one binary. Like a FIFO queue it drops a job whose DedupeKey was sent
// within the last five minutes.
type MemoryQueue struct {
	ch  chan queueMessage
	now func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:     make(chan queueMessage, buffer),
		now:    time.Now,
		recent: make(map[string]time.Time),
	}
}

// Send enqueues job or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, job queuedJob) error {
	if q.duplicate(job.DedupeKey) {
		return nil
	}
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          job.Body,
		ReceiptHandle: uuid.NewString(),
		ReceiveCount:  1,
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		q.forget(job.DedupeKey)
		return ctx.Err()
	}
}

func (q *MemoryQueue) duplicate(key string) bool {
	if key == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for k, at := range q.recent {
		if now.Sub(at) >= dedupeWindow {
			delete(q.recent, k)
		}
	}
	if _, ok := q.recent[key]; ok {
		return true
	}
	q.recent[key] = now
	return false
}

func (q *MemoryQueue) forget(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.recent, key)
	q.mu.Unlock()
}

// Receive waits up to waitSeconds for at least one job, then returns up to
// maxMessages without blocking further. waitSeconds <= 0 waits until ctx is
// done.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	batch := []queueMessage{first}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Delete is a no-op: a received job is never redelivered in memory.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}
