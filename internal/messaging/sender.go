package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinicdesk/internal/observability/metrics"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type gatewayClient interface {
	SendMessageToPatient(ctx context.Context, phone, text string) (*whatsappclient.SendResult, error)
}

// GatewaySender adapts the WhatsApp gateway client to conversation.Sender.
type GatewaySender struct {
	client  gatewayClient
	metrics *metrics.MessagingMetrics
	logger  *logging.Logger
}

func NewGatewaySender(client gatewayClient, m *metrics.MessagingMetrics, logger *logging.Logger) *GatewaySender {
	if client == nil {
		panic("messaging: gateway client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GatewaySender{client: client, metrics: m, logger: logger}
}

// SendMessageToPatient normalizes phone and sends text through the gateway.
func (s *GatewaySender) SendMessageToPatient(ctx context.Context, phone, text string) (conversation.SendResult, error) {
	to := conversation.NormalizePhone(phone)
	if to == "" {
		s.metrics.ObserveOutbound("invalid")
		return conversation.SendResult{}, errors.New("messaging: recipient phone required")
	}
	res, err := s.client.SendMessageToPatient(ctx, to, text)
	if err != nil {
		s.metrics.ObserveOutbound("error")
		s.logger.Error("whatsapp send failed", "error", err, "to", to)
		return conversation.SendResult{}, err
	}
	if !res.Success {
		s.metrics.ObserveOutbound("rejected")
		s.logger.Warn("whatsapp gateway rejected message", "to", to, "reason", res.Error)
		return conversation.SendResult{Success: false, MessageID: res.MessageID}, nil
	}
	s.metrics.ObserveOutbound("sent")
	return conversation.SendResult{Success: true, MessageID: res.MessageID}, nil
}
