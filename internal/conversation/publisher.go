package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// Publisher hands inbound WhatsApp messages to the worker through the queue.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound queues msg. A message without a sender phone can never be
// threaded, so it is refused here instead of in the worker.
func (p *Publisher) EnqueueInbound(ctx context.Context, jobID string, msg InboundMessage) error {
	if NormalizePhone(msg.FromPhone) == "" {
		return errors.New("conversation: inbound message without sender phone")
	}
	payload, job, err := newInboundJob(jobID, msg)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, job); err != nil {
		return fmt.Errorf("conversation: enqueue inbound %s: %w", payload.ID, err)
	}
	p.logger.Debug("inbound message queued", "job_id", payload.ID, "message_id", msg.MessageID)
	return nil
}
