package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

// SendResult is what the transport reports for one send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

// Sender delivers text to a patient over the messaging transport.
type Sender interface {
	SendMessageToPatient(ctx context.Context, phone, text string) (SendResult, error)
}

// OutboundReply is one reply addressed to a conversation.
type OutboundReply struct {
	ConversationID uuid.UUID
	Phone          string
	Text           string
}

// Dispatcher sends a reply on behalf of a conversation.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply OutboundReply) (SendResult, error)
}

// ErrSendRejected is returned when the transport answers without success.
var ErrSendRejected = errors.New("conversation: transport rejected message")

// RecordingDispatcher sends through a Sender and appends the delivered reply
// to the conversation as an outbound message.
type RecordingDispatcher struct {
	sender      Sender
	store       Store
	clinicPhone string
	now         func() time.Time
	logger      *logging.Logger
}

func NewRecordingDispatcher(sender Sender, store Store, clinicPhone string, logger *logging.Logger) *RecordingDispatcher {
	if sender == nil {
		panic("conversation: sender cannot be nil")
	}
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RecordingDispatcher{
		sender:      sender,
		store:       store,
		clinicPhone: NormalizePhone(clinicPhone),
		now:         time.Now,
		logger:      logger,
	}
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, reply OutboundReply) (SendResult, error) {
	result, err := d.sender.SendMessageToPatient(ctx, reply.Phone, reply.Text)
	if err != nil {
		return SendResult{}, fmt.Errorf("conversation: send reply: %w", err)
	}
	if !result.Success {
		return result, ErrSendRejected
	}

	// The reply is already on its way; a failed record is logged, not returned.
	if _, err := d.store.AppendMessage(ctx, reply.ConversationID, Message{
		Content:     reply.Text,
		Type:        MessageText,
		SenderPhone: d.clinicPhone,
		Direction:   DirectionOutbound,
		Timestamp:   d.now().UTC(),
	}); err != nil {
		d.logger.Error("failed to record outbound reply",
			"error", err,
			"conversation_id", reply.ConversationID,
			"provider_message_id", result.MessageID,
		)
	}
	return result, nil
}
