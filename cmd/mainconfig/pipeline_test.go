package mainconfig

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinicdesk/internal/config"
	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

func localConfig() *appconfig.Config {
	return &appconfig.Config{
		WhatsAppGatewayURL: "http://127.0.0.1:1",
		WhatsAppSessionID:  "clinic",
		DispatchTimeout:    time.Second,
		GatingMode:         "legacy",
		LLMProvider:        "none",
		EmailProvider:      "none",
		ClinicName:         "Clínica Sonrisa",
		AWSRegion:          "eu-west-1",
	}
}

func TestBuildPipelineWithoutInfrastructure(t *testing.T) {
	p, err := BuildPipeline(context.Background(), localConfig(), prometheus.NewRegistry(), logging.Discard())
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &conversation.MemoryStore{}, p.Conversations)
	assert.Nil(t, p.Deduplicator)
	assert.Nil(t, p.Processed)
	assert.Nil(t, p.Deliverer)
	assert.Empty(t, p.HealthChecks)
	require.NotNil(t, p.Processor)

	res := p.Processor.HandleInbound(context.Background(), conversation.InboundMessage{
		MessageID: "wamid-1",
		FromPhone: "612345678",
		Text:      "me duele mucho la muela",
	})
	assert.True(t, res.Tagged)
	conv, err := p.Conversations.GetConversation(context.Background(), res.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.Urgent)
}

func TestLLMClientSelection(t *testing.T) {
	p := &Pipeline{}
	ctx := context.Background()

	cfg := localConfig()
	client, _, err := p.llmClient(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, client)

	cfg.LLMProvider = "openai"
	_, _, err = p.llmClient(ctx, cfg)
	assert.Error(t, err, "missing key")

	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIModel = "gpt-4o-mini"
	client, model, err := p.llmClient(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, "gpt-4o-mini", model)

	cfg.LLMProvider = "bedrock"
	_, _, err = p.llmClient(ctx, cfg)
	assert.Error(t, err, "missing model id")

	cfg.LLMProvider = "claude-direct"
	_, _, err = p.llmClient(ctx, cfg)
	assert.Error(t, err)
}

func TestGeneratorsFallBackToTemplate(t *testing.T) {
	p := &Pipeline{}
	cfg := localConfig()
	cfg.LLMProvider = "gemini"

	gens := p.generators(context.Background(), cfg, conversation.ClinicProfile{}, logging.Discard())
	require.Len(t, gens, 1)
	assert.Equal(t, "template", gens[0].Name())
}

func TestAWSClientsUseEndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := localConfig()
	cfg.AWSAccessKeyID = "test"
	cfg.AWSSecretAccessKey = "test"
	cfg.AWSEndpointOverride = "http://localhost:4566"

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	assert.Equal(t, "http://localhost:4566", aws.ToString(NewSQSClient(awsCfg, cfg).Options().BaseEndpoint))
	assert.Equal(t, "http://localhost:4566", aws.ToString(NewSESClient(awsCfg, cfg).Options().BaseEndpoint))

	cfg.AWSEndpointOverride = ""
	assert.Nil(t, NewSQSClient(awsCfg, cfg).Options().BaseEndpoint)
}

func TestConnectHelpersSkipEmptySettings(t *testing.T) {
	logger := logging.Discard()
	assert.Nil(t, ConnectPostgresPool(context.Background(), "", logger))
	assert.Nil(t, ConnectRedis(context.Background(), localConfig(), logger))
}
