package mainconfig

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinicdesk/internal/aiconfig"
	appconfig "github.com/wolfman30/clinicdesk/internal/config"
	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/internal/events"
	"github.com/wolfman30/clinicdesk/internal/http/handlers"
	"github.com/wolfman30/clinicdesk/internal/messaging"
	"github.com/wolfman30/clinicdesk/internal/messaging/whatsappclient"
	"github.com/wolfman30/clinicdesk/internal/notify"
	"github.com/wolfman30/clinicdesk/internal/observability/metrics"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

const processedRetention = 30 * 24 * time.Hour

// Pipeline holds the components shared by the API server and the
// conversation worker: stores, gating policy and the inbound processor.
type Pipeline struct {
	Conversations    conversation.Repository
	AIConfigs        aiconfig.Store
	Policy           *conversation.Policy
	Processor        *conversation.Processor
	Gateway          *whatsappclient.Client
	Deduplicator     conversation.Deduplicator
	Processed        *events.ProcessedStore
	Deliverer        *events.Deliverer
	MessagingMetrics *metrics.MessagingMetrics
	HealthChecks     map[string]handlers.HealthCheck

	awsCfg  *aws.Config
	closers []func()
}

// BuildPipeline wires the processing stack from cfg. Missing DATABASE_URL or
// REDIS_ADDR fall back to in-memory stores so the service runs locally
// without infrastructure.
func BuildPipeline(ctx context.Context, cfg *appconfig.Config, reg prometheus.Registerer, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{
		MessagingMetrics: metrics.NewMessagingMetrics(reg),
		HealthChecks:     map[string]handlers.HealthCheck{},
	}
	convMetrics := metrics.NewConversationMetrics(reg)

	pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		p.closers = append(p.closers, pool.Close)
		p.HealthChecks["postgres"] = pool.Ping
		p.Conversations = conversation.NewPostgresStore(pool)
		p.Processed = events.NewProcessedStore(pool)
		p.Deduplicator = p.Processed
	} else {
		p.Conversations = conversation.NewMemoryStore()
	}

	configs, err := p.aiConfigStore(ctx, cfg, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.AIConfigs = configs

	gateway, err := whatsappclient.New(whatsappclient.Config{
		BaseURL:       cfg.WhatsAppGatewayURL,
		Token:         cfg.WhatsAppGatewayToken,
		SessionID:     cfg.WhatsAppSessionID,
		WebhookSecret: cfg.WhatsAppWebhookSecret,
		Timeout:       cfg.DispatchTimeout,
		MaxRetries:    2,
		Logger:        logger.With("component", "whatsapp").Logger,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("mainconfig: whatsapp gateway: %w", err)
	}
	p.Gateway = gateway
	p.closers = append(p.closers, func() { _ = gateway.Close() })
	sender := messaging.NewGatewaySender(gateway, p.MessagingMetrics, logger)

	profile := conversation.ClinicProfile{
		Name:       cfg.ClinicName,
		Phone:      cfg.ClinicPhone,
		Website:    cfg.ClinicWebsite,
		Address:    cfg.ClinicAddress,
		BookingURL: cfg.ClinicBookingURL,
	}
	p.Policy = conversation.NewPolicy(
		aiconfig.ParseGatingMode(cfg.GatingMode),
		profile,
		logger,
		p.generators(ctx, cfg, profile, logger)...,
	)

	opts := []conversation.ProcessorOption{
		conversation.WithConversationMetrics(convMetrics),
		conversation.WithDispatchTimeout(cfg.DispatchTimeout),
		conversation.WithUrgencyNotifier(p.staffNotifier(ctx, cfg, sender, logger)),
	}
	if outbox := p.urgencyOutbox(cfg, pool, logger); outbox != nil {
		opts = append(opts, conversation.WithUrgencyNotifier(outbox))
	}

	dispatcher := conversation.NewRecordingDispatcher(sender, p.Conversations, cfg.ClinicPhone, logger)
	p.Processor = conversation.NewProcessor(p.Conversations, p.AIConfigs, p.Policy, dispatcher, logger, opts...)
	return p, nil
}

// StartBackground runs the outbox deliverer and the processed-events
// retention loop, when configured, until ctx is cancelled.
func (p *Pipeline) StartBackground(ctx context.Context, logger *logging.Logger) {
	if p.Deliverer != nil {
		go p.Deliverer.Start(ctx)
	}
	if p.Processed != nil {
		go p.Processed.RunRetention(ctx, processedRetention, time.Hour, logger)
	}
}

// Close releases every connection opened by BuildPipeline, newest first.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// AWSConfig loads the shared AWS configuration once.
func (p *Pipeline) AWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	if p.awsCfg != nil {
		return *p.awsCfg, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	p.awsCfg = &awsCfg
	return awsCfg, nil
}

func (p *Pipeline) aiConfigStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (aiconfig.Store, error) {
	var store aiconfig.Store = aiconfig.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := OpenSQL(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { _ = db.Close() })
		store = aiconfig.NewPostgresStore(db)
	}

	if client := ConnectRedis(ctx, cfg, logger); client != nil {
		p.closers = append(p.closers, func() { _ = client.Close() })
		p.HealthChecks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		store = aiconfig.NewCachedStore(store, client, cfg.AIConfigCacheTTL, logger)
	}
	return store, nil
}

// generators returns the LLM generator when one is configured, otherwise the
// template generator. The policy falls back to rule replies after either.
func (p *Pipeline) generators(ctx context.Context, cfg *appconfig.Config, profile conversation.ClinicProfile, logger *logging.Logger) []conversation.Generator {
	client, model, err := p.llmClient(ctx, cfg)
	switch {
	case err != nil:
		logger.Warn("llm provider unavailable, using template replies", "provider", cfg.LLMProvider, "error", err)
	case client != nil:
		logger.Info("llm replies enabled", "provider", cfg.LLMProvider, "model", model)
		traced := conversation.NewTracedLLMClient(client, cfg.LLMProvider)
		return []conversation.Generator{conversation.NewLLMGenerator(traced, model, profile, cfg.LLMTimeout)}
	}
	return []conversation.Generator{conversation.NewTemplateGenerator(profile)}
}

func (p *Pipeline) llmClient(ctx context.Context, cfg *appconfig.Config) (conversation.LLMClient, string, error) {
	switch cfg.LLMProvider {
	case "", "none":
		return nil, "", nil
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", err
		}
		p.closers = append(p.closers, func() { _ = client.Close() })
		return client, cfg.GeminiModelID, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, "", errors.New("BEDROCK_MODEL_ID is required")
		}
		awsCfg, err := p.AWSConfig(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), cfg.BedrockModelID, nil
	case "openai":
		client, err := conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, "")
		if err != nil {
			return nil, "", err
		}
		return client, cfg.OpenAIModel, nil
	default:
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (p *Pipeline) staffNotifier(ctx context.Context, cfg *appconfig.Config, staff conversation.Sender, logger *logging.Logger) *notify.Service {
	loc, err := time.LoadLocation(aiconfig.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return notify.NewService(p.emailSender(ctx, cfg, logger), staff, notify.Config{
		ClinicName:      cfg.ClinicName,
		EmailRecipients: cfg.UrgentAlertRecipients,
		StaffPhones:     cfg.UrgentAlertPhones,
		Location:        loc,
	}, logger)
}

func (p *Pipeline) emailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		logger.Warn("SENDGRID_API_KEY not set, urgent alert emails are logged only")
	case "ses":
		awsCfg, err := p.AWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("ses unavailable, urgent alert emails are logged only", "error", err)
			break
		}
		return notify.NewSESSender(NewSESClient(awsCfg, cfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.ClinicName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger)
	}
	return notify.NewStubEmailSender(logger)
}

// urgencyOutbox records urgency events for NATS delivery. It needs both
// Postgres and NATS; without either, alerts go to staff only.
func (p *Pipeline) urgencyOutbox(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) *events.UrgencyOutbox {
	if pool == nil || strings.TrimSpace(cfg.NATSURL) == "" {
		return nil
	}
	conn, err := events.ConnectNATS(cfg.NATSURL, "clinicdesk", logger)
	if err != nil {
		logger.Warn("nats unavailable, urgency events not published", "error", err)
		return nil
	}
	p.closers = append(p.closers, func() { drainNATS(conn) })
	p.HealthChecks["nats"] = func(context.Context) error {
		if !conn.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return nil
	}
	store := events.NewOutboxStore(pool)
	p.Deliverer = events.NewDeliverer(store, events.NewNATSPublisher(conn, cfg.NATSSubjectPrefix), logger)
	return events.NewUrgencyOutbox(store)
}

func drainNATS(conn *nats.Conn) {
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

// ConnectPostgresPool returns nil when url is empty or the database is
// unreachable; callers then fall back to in-memory stores.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// OpenSQL opens a database/sql handle on the lib/pq driver.
func OpenSQL(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mainconfig: ping database: %w", err)
	}
	return db, nil
}

// ConnectRedis returns nil when REDIS_ADDR is unset or unreachable.
func ConnectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, ai configuration is not cached", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
