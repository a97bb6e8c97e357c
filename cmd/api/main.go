package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinicdesk/cmd/mainconfig"
	"github.com/wolfman30/clinicdesk/internal/api/router"
	appconfig "github.com/wolfman30/clinicdesk/internal/config"
	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/internal/http/handlers"
	"github.com/wolfman30/clinicdesk/internal/messaging"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinicdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"gating_mode", cfg.GatingMode,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, metricsHandler := setupMetrics()
	pipeline, err := mainconfig.BuildPipeline(ctx, cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	checkGateway(ctx, pipeline, logger)

	publisher, memoryQueue, err := setupQueue(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Error("failed to set up conversation queue", "error", err)
		os.Exit(1)
	}
	worker := setupInlineWorker(ctx, cfg, pipeline, memoryQueue, logger)
	pipeline.StartBackground(ctx, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, pipeline, publisher, metricsHandler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics creates a dedicated registry with the Go and process
// collectors plus everything the pipeline registers.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func checkGateway(ctx context.Context, p *mainconfig.Pipeline, logger *logging.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.Gateway.Connect(checkCtx); err != nil {
		// Replies fail until the gateway session is up; webhooks still queue.
		logger.Warn("whatsapp gateway session not ready", "error", err)
	}
}

// setupQueue returns the publisher used by the webhook. With
// USE_MEMORY_QUEUE the queue is in-process and also returned so an inline
// worker can drain it; otherwise messages go to SQS for the worker binary.
func setupQueue(ctx context.Context, cfg *appconfig.Config, p *mainconfig.Pipeline, logger *logging.Logger) (*conversation.Publisher, *conversation.MemoryQueue, error) {
	if cfg.UseMemoryQueue {
		queue := conversation.NewMemoryQueue(1024)
		logger.Info("using in-memory conversation queue")
		return conversation.NewPublisher(queue, logger), queue, nil
	}
	if cfg.ConversationQueueURL == "" {
		return nil, nil, errors.New("CONVERSATION_QUEUE_URL is required when USE_MEMORY_QUEUE=false")
	}
	awsCfg, err := p.AWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	queue := conversation.NewSQSQueue(mainconfig.NewSQSClient(awsCfg, cfg), cfg.ConversationQueueURL)
	return conversation.NewPublisher(queue, logger), nil, nil
}

// setupInlineWorker starts a worker on the in-memory queue. It returns nil
// when messages go through SQS instead.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, p *mainconfig.Pipeline, queue *conversation.MemoryQueue, logger *logging.Logger) *conversation.Worker {
	if queue == nil {
		return nil
	}
	worker := conversation.NewWorker(
		p.Processor,
		queue,
		logger.With("component", "inline-worker"),
		conversation.WithWorkerCount(1),
		conversation.WithShardCount(cfg.WorkerCount),
		conversation.WithDeduplicator(p.Deduplicator),
	)
	worker.Start(ctx)
	logger.Info("inline conversation worker started", "shards", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *conversation.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline conversation worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline conversation worker shutdown timed out")
	}
}

func newRouter(cfg *appconfig.Config, p *mainconfig.Pipeline, publisher *conversation.Publisher, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	return router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(p.HealthChecks),
		Webhook:            messaging.NewHandler(p.Gateway, publisher, p.MessagingMetrics, logger),
		Conversations:      handlers.NewConversationsHandler(p.Conversations, p.Processor, logger),
		AIConfig:           handlers.NewAIConfigHandler(p.AIConfigs, p.Policy, logger),
		MetricsHandler:     metricsHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		AdminAuthIssuer:    cfg.AdminJWTIssuer,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
	})
}
