package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for the WhatsApp gateway flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp gateway webhooks",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of WhatsApp webhook handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(messageType).Observe(seconds)
}

// ConversationMetrics tracks classification and gating outcomes.
type ConversationMetrics struct {
	intentsTotal   *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	urgentTotal    *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	dispatchLat    prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "conversation",
			Name:      "intents_total",
			Help:      "Inbound messages by classified intent",
		}, []string{"intent"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "conversation",
			Name:      "decisions_total",
			Help:      "AI gating decisions by outcome and reply source",
		}, []string{"outcome", "source"}),
		urgentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "conversation",
			Name:      "urgent_tags_total",
			Help:      "Urgency tags placed, by attribution",
		}, []string{"tagged_by"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "conversation",
			Name:      "failures_total",
			Help:      "Contained failures while processing inbound messages, by stage",
		}, []string{"stage"}),
		dispatchLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "conversation",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of reply dispatch to the WhatsApp gateway",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.intentsTotal, m.decisionsTotal, m.urgentTotal, m.failuresTotal, m.dispatchLat)
	return m
}

func (m *ConversationMetrics) ObserveIntent(label string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(label).Inc()
}

func (m *ConversationMetrics) ObserveDecision(outcome, source string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome, source).Inc()
}

func (m *ConversationMetrics) ObserveUrgentTag(taggedBy string) {
	if m == nil {
		return
	}
	m.urgentTotal.WithLabelValues(taggedBy).Inc()
}

func (m *ConversationMetrics) ObserveFailure(stage string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(stage).Inc()
}

func (m *ConversationMetrics) ObserveDispatchLatency(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLat.Observe(seconds)
}
