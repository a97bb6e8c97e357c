package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// InboundHandler processes one inbound message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) ProcessResult
}

// Worker consumes inbound jobs from the queue. Jobs are routed to shards by
// sender phone, so jobs for one patient never run concurrently. With a single
// receiver they also run in the order they were received.
type Worker struct {
	handler InboundHandler
	queue   queueClient
	logger  *logging.Logger

	cfg    workerConfig
	shards []chan shardJob

	receivers sync.WaitGroup
	wg        sync.WaitGroup
}

// Deduplicator remembers gateway message IDs that were already processed.
// The queue is at-least-once, so redelivered jobs are skipped.
type Deduplicator interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

const dedupeProvider = "whatsapp"

type workerConfig struct {
	dedupe           Deduplicator
	workers          int
	shards           int
	shardBuffer      int
	receiveWaitSecs  int
	receiveBatchSize int
}

type shardJob struct {
	msg     queueMessage
	payload queuePayload
}

const (
	defaultWorkerCount   = 1
	defaultShardCount    = 8
	defaultShardBuffer   = 16
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent queue receivers.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithDeduplicator skips jobs whose message ID was already processed.
func WithDeduplicator(d Deduplicator) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.dedupe = d
	}
}

// WithShardCount sets how many per-phone processing lanes run in parallel.
func WithShardCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.shards = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker constructs a queue consumer around the provided handler.
func NewWorker(handler InboundHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		shards:           defaultShardCount,
		shardBuffer:      defaultShardBuffer,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler: handler,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the receivers and shard goroutines. They stop when ctx is
// cancelled; jobs already routed to a shard are still processed.
func (w *Worker) Start(ctx context.Context) {
	w.shards = make([]chan shardJob, w.cfg.shards)
	for i := range w.shards {
		w.shards[i] = make(chan shardJob, w.cfg.shardBuffer)
		w.wg.Add(1)
		go w.runShard(context.WithoutCancel(ctx), i, w.shards[i])
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.receivers.Add(1)
		go w.run(ctx, i+1)
	}
	go func() {
		w.receivers.Wait()
		for _, ch := range w.shards {
			close(ch)
		}
	}()
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.receivers.Wait()
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.receivers.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.route(ctx, msg)
		}
	}
}

func (w *Worker) route(ctx context.Context, msg queueMessage) {
	payload, ok := w.decode(msg)
	if !ok {
		return
	}
	ch := w.shards[shardFor(NormalizePhone(payload.Inbound.FromPhone), len(w.shards))]
	select {
	case ch <- shardJob{msg: msg, payload: payload}:
	case <-ctx.Done():
		// Left on the queue; SQS redelivers after the visibility timeout.
	}
}

func (w *Worker) runShard(ctx context.Context, shard int, jobs <-chan shardJob) {
	defer w.wg.Done()
	for job := range jobs {
		w.handleMessage(ctx, shard, job.msg, job.payload)
	}
}

func (w *Worker) decode(msg queueMessage) (queuePayload, bool) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return queuePayload{}, false
	}
	if payload.Kind != jobTypeInbound {
		w.logger.Warn("dropping conversation job with unknown kind", "job_id", payload.ID, "kind", payload.Kind)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return queuePayload{}, false
	}
	return payload, true
}

func (w *Worker) handleMessage(ctx context.Context, shard int, msg queueMessage, payload queuePayload) {
	w.logger.Debug("worker processing job",
		"job_id", payload.ID,
		"msg_id", msg.ID,
		"shard", shard,
	)

	messageID := payload.Inbound.MessageID
	if msg.ReceiveCount > 1 {
		w.logger.Warn("inbound job redelivered", "job_id", payload.ID, "message_id", messageID, "receive_count", msg.ReceiveCount)
	}
	if w.seen(ctx, messageID) {
		w.logger.Info("skipping duplicate inbound message", "job_id", payload.ID, "message_id", messageID)
		w.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	result := w.handler.HandleInbound(ctx, payload.Inbound)
	w.logger.Debug("worker finished job",
		"job_id", payload.ID,
		"conversation_id", result.ConversationID,
		"outcome", result.Decision.Outcome,
		"dispatched", result.Dispatched,
	)
	if w.cfg.dedupe != nil && messageID != "" {
		if _, err := w.cfg.dedupe.MarkProcessed(ctx, dedupeProvider, messageID); err != nil {
			w.logger.Warn("failed to mark message processed", "error", err, "message_id", messageID)
		}
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

// seen reports whether messageID was processed before. Lookup errors are
// treated as unseen.
func (w *Worker) seen(ctx context.Context, messageID string) bool {
	if w.cfg.dedupe == nil || messageID == "" {
		return false
	}
	done, err := w.cfg.dedupe.AlreadyProcessed(ctx, dedupeProvider, messageID)
	if err != nil {
		w.logger.Warn("dedupe lookup failed", "error", err, "message_id", messageID)
		return false
	}
	return done
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}

func shardFor(phone string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	return int(h.Sum32() % uint32(shards))
}
