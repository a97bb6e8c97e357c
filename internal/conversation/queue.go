package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// queueClient carries inbound jobs from the webhook to the worker.
type queueClient interface {
	Send(ctx context.Context, job queuedJob) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// queuedJob is one encoded job plus its routing keys. GroupKey is the
// patient phone, so FIFO queues keep a patient's messages in order.
// DedupeKey is the gateway message ID when known.
type queuedJob struct {
	Body      string
	GroupKey  string
	DedupeKey string
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	// ReceiveCount is 1 on first delivery; 0 when the queue does not say.
	ReceiveCount int
}

type jobType string

const jobTypeInbound jobType = "inbound_message"

type queuePayload struct {
	ID      string         `json:"id"`
	Kind    jobType        `json:"kind"`
	Inbound InboundMessage `json:"inbound"`
}

// newInboundJob encodes msg for the queue. jobID defaults to the gateway
// message ID, then to a random UUID.
func newInboundJob(jobID string, msg InboundMessage) (queuePayload, queuedJob, error) {
	payload := queuePayload{ID: jobID, Kind: jobTypeInbound, Inbound: msg}
	if payload.ID == "" {
		payload.ID = msg.MessageID
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, queuedJob{}, fmt.Errorf("conversation: encode inbound job: %w", err)
	}
	return payload, queuedJob{
		Body:      string(body),
		GroupKey:  NormalizePhone(msg.FromPhone),
		DedupeKey: msg.MessageID,
	}, nil
}
