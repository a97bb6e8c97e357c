package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinicdesk/internal/observability/metrics"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

var webhookTracer = otel.Tracer("clinicdesk/messaging-webhook")

// WebhookSecretHeader carries the shared secret configured on the gateway.
const WebhookSecretHeader = "X-Webhook-Secret"

const (
	maxWebhookBody = 1 << 20
	enqueueTimeout = 3 * time.Second
)

type inboundPublisher interface {
	EnqueueInbound(ctx context.Context, jobID string, msg conversation.InboundMessage) error
}

type webhookVerifier interface {
	VerifyWebhookSecret(provided string) error
}

// Handler accepts inbound WhatsApp messages from the gateway and queues them.
type Handler struct {
	verifier  webhookVerifier
	publisher inboundPublisher
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewHandler creates a webhook handler. verifier may be nil when the gateway
// does not send a secret.
func NewHandler(verifier webhookVerifier, publisher inboundPublisher, m *metrics.MessagingMetrics, logger *logging.Logger) *Handler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		verifier:  verifier,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// WhatsAppWebhook handles POST /webhooks/whatsapp/messages.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.whatsapp.webhook", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	messageType := "unknown"
	defer func() {
		h.metrics.ObserveWebhookLatency(messageType, time.Since(start).Seconds())
	}()

	if h.verifier != nil {
		if err := h.verifier.VerifyWebhookSecret(r.Header.Get(WebhookSecretHeader)); err != nil {
			h.logger.Warn("rejected whatsapp webhook", "error", err)
			h.metrics.ObserveInbound(messageType, "unauthorized")
			span.SetStatus(codes.Error, "unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
			return
		}
	}

	var payload whatsappclient.InboundMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		h.logger.Warn("failed to decode whatsapp webhook", "error", err)
		h.metrics.ObserveInbound(messageType, "invalid")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON body")
		return
	}
	if err := payload.Validate(); err != nil {
		h.metrics.ObserveInbound(messageType, "invalid")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	msg := toInbound(payload, h.now())
	messageType = string(msg.Type)
	span.SetAttributes(
		attribute.String("whatsapp.message_id", msg.MessageID),
		attribute.String("whatsapp.message_type", messageType),
	)

	publishCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := h.publisher.EnqueueInbound(publishCtx, msg.MessageID, msg); err != nil {
		h.logger.Error("failed to enqueue inbound message", "error", err, "message_id", msg.MessageID)
		h.metrics.ObserveInbound(messageType, "enqueue_failed")
		span.RecordError(err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "enqueue_failed", "failed to schedule processing")
		return
	}

	h.metrics.ObserveInbound(messageType, "accepted")
	h.logger.Info("whatsapp message accepted", "message_id", msg.MessageID, "message_type", messageType)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"data":    map[string]any{"accepted": true, "message_id": msg.MessageID},
	})
}

func toInbound(p whatsappclient.InboundMessage, now time.Time) conversation.InboundMessage {
	msgType := conversation.MessageText
	if strings.EqualFold(strings.TrimSpace(p.MessageType), string(conversation.MessageMedia)) {
		msgType = conversation.MessageMedia
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return conversation.InboundMessage{
		MessageID: strings.TrimSpace(p.MessageID),
		FromPhone: p.FromPhone,
		Text:      p.Text,
		Type:      msgType,
		Timestamp: ts.UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message, "code": code})
}
