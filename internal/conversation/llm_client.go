package conversation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn sent to a language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is reported by providers that return it; zero otherwise.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is the provider-neutral completion request. A negative
// Temperature leaves the provider default.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is implemented by the Gemini, Bedrock and OpenAI clients.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

var llmTracer = otel.Tracer("clinicdesk/llm")

// TracedLLMClient records each completion as a span tagged with the provider
// and token usage.
type TracedLLMClient struct {
	next     LLMClient
	provider string
}

func NewTracedLLMClient(next LLMClient, provider string) *TracedLLMClient {
	return &TracedLLMClient{next: next, provider: provider}
}

func (c *TracedLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	ctx, span := llmTracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", req.Model),
	)

	resp, err := c.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return LLMResponse{}, err
	}
	span.SetAttributes(
		attribute.Int("llm.tokens.input", int(resp.Usage.InputTokens)),
		attribute.Int("llm.tokens.output", int(resp.Usage.OutputTokens)),
		attribute.String("llm.stop_reason", resp.StopReason),
	)
	return resp, nil
}
