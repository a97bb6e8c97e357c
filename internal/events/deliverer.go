package events

import (
	"context"
	"time"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

const (
	defaultBatchSize    int32 = 25
	defaultPollInterval       = 2 * time.Second
	defaultMaxAttempts        = 10
)

// Deliverer polls the outbox and hands pending entries to a DeliveryHandler.
// An entry that keeps failing is parked after maxAttempts and stays in the
// table with its last error for manual inspection.
type Deliverer struct {
	store       *OutboxStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

func WithBatchSize(n int32) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithPollInterval(interval time.Duration) DelivererOption {
	return func(d *Deliverer) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithMaxAttempts(n int) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger, opts ...DelivererOption) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   defaultBatchSize,
		interval:    defaultPollInterval,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start blocks until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain delivers one batch and returns how many entries it marked.
func (d *Deliverer) drain(ctx context.Context) int {
	pending, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}

	marked := 0
	for _, entry := range pending {
		log := d.logger.With("event_id", entry.ID, "type", entry.Type)
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.fail(ctx, log, entry, err)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		switch {
		case err != nil:
			log.Error("outbox mark delivered failed", "error", err)
		case ok:
			marked++
			log.Debug("outbox entry delivered")
		}
	}
	return marked
}

func (d *Deliverer) fail(ctx context.Context, log *logging.Logger, entry OutboxEntry, cause error) {
	attempt := entry.Attempts + 1
	if err := d.store.RecordFailure(ctx, entry.ID, cause); err != nil {
		log.Error("outbox failure not recorded", "error", err)
	}
	if attempt >= d.maxAttempts {
		log.Error("outbox entry parked after repeated failures", "error", cause, "attempts", attempt)
		return
	}
	log.Warn("outbox delivery failed, will retry", "error", cause, "attempt", attempt)
}
