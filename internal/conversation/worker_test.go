package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string][]string
	done chan struct{}
	want int
	n    int
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{seen: map[string][]string{}, done: make(chan struct{}), want: want}
}

func (h *recordingHandler) HandleInbound(ctx context.Context, msg InboundMessage) ProcessResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	phone := NormalizePhone(msg.FromPhone)
	h.seen[phone] = append(h.seen[phone], msg.Text)
	h.n++
	if h.n == h.want {
		close(h.done)
	}
	return ProcessResult{}
}

type deleteCountingQueue struct {
	*MemoryQueue
	mu      sync.Mutex
	deleted int
}

func (q *deleteCountingQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	q.deleted++
	q.mu.Unlock()
	return nil
}

func (q *deleteCountingQueue) deletes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

func TestWorker_PreservesPerPhoneOrder(t *testing.T) {
	queue := &deleteCountingQueue{MemoryQueue: NewMemoryQueue(256)}
	publisher := NewPublisher(queue, logging.Discard())
	handler := newRecordingHandler(60)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := NewWorker(handler, queue, logging.Discard(),
		WithWorkerCount(1),
		WithShardCount(4),
		WithReceiveWaitSeconds(1),
		WithReceiveBatchSize(10),
	)
	worker.Start(ctx)

	phones := []string{"666000001", "666000002", "666000003"}
	for i := 0; i < 20; i++ {
		for _, phone := range phones {
			require.NoError(t, publisher.EnqueueInbound(ctx, "", InboundMessage{
				FromPhone: phone,
				Text:      fmt.Sprintf("msg-%02d", i),
			}))
		}
	}

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
	cancel()
	worker.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for _, phone := range phones {
		texts := handler.seen[NormalizePhone(phone)]
		require.Len(t, texts, 20)
		for i, text := range texts {
			assert.Equal(t, fmt.Sprintf("msg-%02d", i), text, "phone %s out of order", phone)
		}
	}
	assert.Equal(t, 60, queue.deletes())
}

func TestWorker_DropsUndecodableJobs(t *testing.T) {
	queue := &deleteCountingQueue{MemoryQueue: NewMemoryQueue(8)}
	handler := newRecordingHandler(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, queue.Send(ctx, queuedJob{Body: "not json"}))
	require.NoError(t, queue.Send(ctx, queuedJob{Body: `{"id":"x","kind":"something_else"}`}))
	_, job, err := newInboundJob("", InboundMessage{FromPhone: "666000001", Text: "hola"})
	require.NoError(t, err)
	require.NoError(t, queue.Send(ctx, job))

	worker := NewWorker(handler, queue, logging.Discard(), WithWorkerCount(1), WithReceiveWaitSeconds(1))
	worker.Start(ctx)

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	cancel()
	worker.Wait()
	assert.Equal(t, 3, queue.deletes())
}

type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memoryDeduper) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[provider+"/"+eventID], nil
}

func (d *memoryDeduper) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := provider + "/" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func TestWorker_SkipsRedeliveredMessages(t *testing.T) {
	queue := &deleteCountingQueue{MemoryQueue: NewMemoryQueue(8)}
	publisher := NewPublisher(queue, logging.Discard())
	handler := newRecordingHandler(2)
	dedupe := &memoryDeduper{seen: map[string]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := InboundMessage{MessageID: "wamid-1", FromPhone: "666000001", Text: "me duele"}
	require.NoError(t, publisher.EnqueueInbound(ctx, "job-1", first))
	// A redelivery bypasses the queue's own dedupe window.
	_, again, err := newInboundJob("job-2", first)
	require.NoError(t, err)
	again.DedupeKey = ""
	require.NoError(t, queue.Send(ctx, again))
	require.NoError(t, publisher.EnqueueInbound(ctx, "", InboundMessage{MessageID: "wamid-2", FromPhone: "666000001", Text: "gracias"}))

	worker := NewWorker(handler, queue, logging.Discard(), WithWorkerCount(1), WithReceiveWaitSeconds(1), WithDeduplicator(dedupe))
	worker.Start(ctx)

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
	cancel()
	worker.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"me duele", "gracias"}, handler.seen["34666000001"])
	assert.Equal(t, 3, queue.deletes())
	assert.True(t, dedupe.seen["whatsapp/wamid-2"])
}

func TestPublisher_DefaultsJobIDToMessageID(t *testing.T) {
	queue := NewMemoryQueue(1)
	publisher := NewPublisher(queue, logging.Discard())
	require.NoError(t, publisher.EnqueueInbound(context.Background(), "", InboundMessage{MessageID: "wamid-7", FromPhone: "666", Text: "hola"}))

	msgs, err := queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload queuePayload
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &payload))
	assert.Equal(t, "wamid-7", payload.ID)
	assert.Equal(t, jobTypeInbound, payload.Kind)
	assert.Equal(t, "hola", payload.Inbound.Text)
}

func TestShardForIsStable(t *testing.T) {
	a := shardFor("34666111222", 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, shardFor("34666111222", 8))
	}
	assert.Equal(t, 0, shardFor("34666111222", 1))
}
