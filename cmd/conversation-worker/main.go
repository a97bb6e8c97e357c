package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinicdesk/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinicdesk/internal/config"
	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).With("component", "conversation-worker")

	if cfg.ConversationQueueURL == "" {
		logger.Error("CONVERSATION_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := mainconfig.BuildPipeline(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	awsConfig, err := pipeline.AWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := conversation.NewSQSQueue(mainconfig.NewSQSClient(awsConfig, cfg), cfg.ConversationQueueURL)

	// One receiver keeps per-patient ordering; shards give the parallelism.
	worker := conversation.NewWorker(
		pipeline.Processor,
		queue,
		logger,
		conversation.WithWorkerCount(1),
		conversation.WithShardCount(cfg.WorkerCount),
		conversation.WithDeduplicator(pipeline.Deduplicator),
	)
	worker.Start(ctx)
	pipeline.StartBackground(ctx, logger)
	logger.Info("conversation worker started", "queue", cfg.ConversationQueueURL, "shards", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
