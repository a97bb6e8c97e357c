package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinicdesk/internal/aiconfig"
	"github.com/wolfman30/clinicdesk/internal/intent"
	"github.com/wolfman30/clinicdesk/internal/observability/metrics"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

var processorTracer = otel.Tracer("clinicdesk/conversation-processor")

const defaultDispatchTimeout = 10 * time.Second

// Failure stages reported to metrics.
const (
	stageThread   = "thread"
	stageAppend   = "append"
	stageConfig   = "config"
	stageTag      = "tag"
	stageNotify   = "notify"
	stageDispatch = "dispatch"
	stagePanic    = "panic"
)

// InboundMessage is one message received from the WhatsApp gateway.
type InboundMessage struct {
	MessageID string      `json:"message_id,omitempty"`
	FromPhone string      `json:"from_phone"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// UrgentAlert describes a conversation that was just tagged urgent.
type UrgentAlert struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Phone          string    `json:"phone"`
	Text           string    `json:"text"`
	Keyword        string    `json:"keyword,omitempty"`
	TaggedBy       string    `json:"tagged_by"`
	TaggedAt       time.Time `json:"tagged_at"`
}

// UrgencyNotifier is told about new urgency tags. Failures are logged only.
type UrgencyNotifier interface {
	NotifyUrgent(ctx context.Context, alert UrgentAlert) error
}

// ProcessResult summarizes what HandleInbound did.
type ProcessResult struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	Message        *Message   `json:"message,omitempty"`
	Decision       Decision   `json:"decision"`
	Tagged         bool       `json:"tagged"`
	Dispatched     bool       `json:"dispatched"`
	Send           SendResult `json:"send"`
}

// Processor runs one inbound message through threading, classification,
// gating, tagging and dispatch. It never returns an error: failures end
// processing and are logged and counted.
type Processor struct {
	store           Store
	threader        *Threader
	configs         aiconfig.Store
	policy          *Policy
	dispatcher      Dispatcher
	notifiers       []UrgencyNotifier
	metrics         *metrics.ConversationMetrics
	dispatchTimeout time.Duration
	logger          *logging.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithUrgencyNotifier adds a notifier called after each new urgency tag.
func WithUrgencyNotifier(n UrgencyNotifier) ProcessorOption {
	return func(p *Processor) {
		if n != nil {
			p.notifiers = append(p.notifiers, n)
		}
	}
}

// WithConversationMetrics wires Prometheus counters.
func WithConversationMetrics(m *metrics.ConversationMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithDispatchTimeout bounds each dispatcher call.
func WithDispatchTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.dispatchTimeout = d
		}
	}
}

// WithThreader replaces the default threader, e.g. to inject a clock.
func WithThreader(t *Threader) ProcessorOption {
	return func(p *Processor) {
		if t != nil {
			p.threader = t
		}
	}
}

func NewProcessor(store Store, configs aiconfig.Store, policy *Policy, dispatcher Dispatcher, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if configs == nil {
		panic("conversation: ai config store cannot be nil")
	}
	if policy == nil {
		panic("conversation: policy cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		store:           store,
		threader:        NewThreader(store),
		configs:         configs,
		policy:          policy,
		dispatcher:      dispatcher,
		dispatchTimeout: defaultDispatchTimeout,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleInbound processes msg. At most one inbound append, one tag update and
// one dispatch happen per call.
func (p *Processor) HandleInbound(ctx context.Context, msg InboundMessage) (res ProcessResult) {
	ctx, span := processorTracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.fail(stagePanic, fmt.Errorf("panic: %v", r), "conversation_id", res.ConversationID)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	phone := NormalizePhone(msg.FromPhone)
	if phone == "" {
		p.fail(stageThread, errors.New("inbound message without sender phone"), "message_id", msg.MessageID)
		return res
	}
	unlock := p.threader.Lock(phone)
	defer unlock()

	now := p.threader.Now()
	conv, err := p.threader.Resolve(ctx, phone, now)
	if err != nil {
		p.fail(stageThread, err, "phone", phone)
		return res
	}
	res.ConversationID = conv.ID
	span.SetAttributes(attribute.String("conversation.id", conv.ID.String()))

	classified := intent.ClassifyContext(ctx, msg.Text)
	p.metrics.ObserveIntent(string(classified.Label))

	msgType := msg.Type
	if msgType == "" {
		msgType = MessageText
	}
	sentAt := msg.Timestamp
	if sentAt.IsZero() {
		sentAt = now
	}
	stored, err := p.store.AppendMessage(ctx, conv.ID, Message{
		Content:         msg.Text,
		Type:            msgType,
		SenderPhone:     phone,
		Direction:       DirectionInbound,
		Timestamp:       sentAt,
		UrgencyDetected: classified.IsEmergency(),
	})
	if err != nil {
		p.fail(stageAppend, err, "conversation_id", conv.ID)
		return res
	}
	res.Message = &stored

	cfg, err := p.configs.GetAIConfiguration(ctx)
	if err != nil {
		p.fail(stageConfig, err, "conversation_id", conv.ID)
		return res
	}

	res.Decision = p.policy.Decide(ctx, ReplyContext{
		Text:   msg.Text,
		Phone:  phone,
		Intent: classified,
		Config: cfg,
		Now:    now,
	})
	p.metrics.ObserveDecision(res.Decision.Outcome, res.Decision.ReplySource)
	span.SetAttributes(
		attribute.String("conversation.intent", string(classified.Label)),
		attribute.String("conversation.outcome", res.Decision.Outcome),
		attribute.Bool("conversation.urgent", res.Decision.Urgent),
	)
	p.logger.Info("inbound message evaluated",
		"conversation_id", conv.ID,
		"seq", stored.Seq,
		"intent", classified.Label,
		"keyword", classified.Keyword,
		"working_hours", res.Decision.WorkingHours,
		"activated", res.Decision.Activated,
		"outcome", res.Decision.Outcome,
		"reply_source", res.Decision.ReplySource,
		"gating_mode", p.policy.Mode(),
	)

	if res.Decision.Urgent {
		res.Tagged = p.tagUrgent(ctx, conv, msg.Text, classified, TaggedByAISystem)
	}

	if res.Decision.ShouldRespond() && p.dispatcher != nil {
		res.Send, res.Dispatched = p.dispatch(ctx, conv, res.Decision.Reply)
	}
	return res
}

func (p *Processor) tagUrgent(ctx context.Context, conv *Conversation, text string, classified intent.Result, taggedBy string) bool {
	if err := p.store.SetUrgencyTag(ctx, conv.ID, UrgencyNotes, taggedBy); err != nil {
		p.fail(stageTag, err, "conversation_id", conv.ID)
		return false
	}
	p.metrics.ObserveUrgentTag(taggedBy)
	p.logger.Warn("conversation tagged urgent",
		"conversation_id", conv.ID,
		"phone", conv.Phone,
		"keyword", classified.Keyword,
		"tagged_by", taggedBy,
	)
	alert := UrgentAlert{
		ConversationID: conv.ID,
		Phone:          conv.Phone,
		Text:           Snippet(text),
		Keyword:        classified.Keyword,
		TaggedBy:       taggedBy,
		TaggedAt:       p.threader.Now().UTC(),
	}
	for _, n := range p.notifiers {
		if err := n.NotifyUrgent(ctx, alert); err != nil {
			p.fail(stageNotify, err, "conversation_id", conv.ID)
		}
	}
	return true
}

func (p *Processor) dispatch(ctx context.Context, conv *Conversation, text string) (SendResult, bool) {
	dispatchCtx, cancel := context.WithTimeout(ctx, p.dispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.dispatcher.Dispatch(dispatchCtx, OutboundReply{
		ConversationID: conv.ID,
		Phone:          conv.Phone,
		Text:           text,
	})
	p.metrics.ObserveDispatchLatency(time.Since(start).Seconds())
	if err != nil {
		p.fail(stageDispatch, err, "conversation_id", conv.ID)
		return result, false
	}
	p.logger.Info("auto-response dispatched",
		"conversation_id", conv.ID,
		"provider_message_id", result.MessageID,
	)
	return result, true
}

func (p *Processor) fail(stage string, err error, args ...any) {
	p.metrics.ObserveFailure(stage)
	p.logger.Error("conversation processing failed", append([]any{"stage", stage, "error", err}, args...)...)
}

// Analysis is the result of re-running classification on a conversation.
type Analysis struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Message        *Message  `json:"message,omitempty"`
	Decision       Decision  `json:"decision"`
	Tagged         bool      `json:"tagged"`
}

// Reanalyze classifies the latest inbound message of a conversation and tags
// it urgent with AI_ENGINE attribution when warranted. It never dispatches.
func (p *Processor) Reanalyze(ctx context.Context, conversationID uuid.UUID) (Analysis, error) {
	reader, ok := p.store.(ReadStore)
	if !ok {
		return Analysis{}, errors.New("conversation: store does not support reads")
	}
	conv, err := reader.GetConversation(ctx, conversationID)
	if err != nil {
		return Analysis{}, err
	}
	unlock := p.threader.Lock(conv.Phone)
	defer unlock()

	messages, err := reader.ListMessages(ctx, conversationID)
	if err != nil {
		return Analysis{}, err
	}
	out := Analysis{ConversationID: conversationID}
	var latest *Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Direction == DirectionInbound && strings.TrimSpace(messages[i].Content) != "" {
			latest = &messages[i]
			break
		}
	}
	if latest == nil {
		out.Decision = Decision{Intent: intent.Classify(""), Outcome: OutcomeNoReply}
		return out, nil
	}
	out.Message = latest

	cfg, err := p.configs.GetAIConfiguration(ctx)
	if err != nil {
		return Analysis{}, fmt.Errorf("conversation: load ai configuration: %w", err)
	}
	classified := intent.ClassifyContext(ctx, latest.Content)
	out.Decision = p.policy.Gate(ReplyContext{
		Text:   latest.Content,
		Phone:  conv.Phone,
		Intent: classified,
		Config: cfg,
		Now:    p.threader.Now(),
	})
	if out.Decision.Urgent && !conv.Urgent {
		out.Tagged = p.tagUrgent(ctx, conv, latest.Content, classified, TaggedByAIEngine)
	}
	return out, nil
}
