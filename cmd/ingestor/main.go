package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weni-ai/conversation-ingestor/internal/awsconfig"
	"github.com/weni-ai/conversation-ingestor/internal/billing"
	"github.com/weni-ai/conversation-ingestor/internal/classify"
	"github.com/weni-ai/conversation-ingestor/internal/config"
	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/httpserver"
	"github.com/weni-ai/conversation-ingestor/internal/ingest"
	"github.com/weni-ai/conversation-ingestor/internal/locks"
	"github.com/weni-ai/conversation-ingestor/internal/logging"
	"github.com/weni-ai/conversation-ingestor/internal/migration"
	"github.com/weni-ai/conversation-ingestor/internal/natsclient"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
	"github.com/weni-ai/conversation-ingestor/internal/registry"
	"github.com/weni-ai/conversation-ingestor/internal/sentryinit"
	"github.com/weni-ai/conversation-ingestor/internal/sideeffect"

	httpclient "net/http"
)

func toLocksCircuitBreakerConfig(cfg config.CircuitBreakerConfig) locks.CircuitBreakerConfig {
	return locks.CircuitBreakerConfig{
		FailureThreshold:    cfg.FailureThreshold,
		OpenDuration:        cfg.OpenDuration,
		HalfOpenMaxAttempts: cfg.HalfOpenMaxAttempts,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, path := range []string{".env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger := logging.New(cfg.Log.Level)
	logger.Info("starting conversation ingestor", slog.String("env", cfg.AppEnv))

	if err := sentryinit.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.Release); err != nil {
		logger.Error("sentry init failed", slog.String("error", err.Error()))
	}
	if sentryinit.Enabled() {
		hostname, _ := os.Hostname()
		tags := map[string]string{"environment": cfg.Sentry.Environment, "app_env": cfg.AppEnv}
		extras := map[string]any{"hostname": hostname}
		sentryinit.CaptureLifecycleEvent("startup", tags, extras)
		defer func() {
			sentryinit.CaptureLifecycleEvent("shutdown", tags, extras)
			sentryinit.Flush(5 * time.Second)
		}()
	}

	metrics := observability.NewMetrics(cfg.Prometheus.Namespace, prometheus.DefaultRegisterer)

	if err := durablestore.EnsureDatabaseExists(ctx, cfg.DurableStore.DSN, logger); err != nil {
		logger.Error("ensure durable store database exists", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pgPool, err := durablestore.NewPool(ctx, cfg.DurableStore.DSN, cfg.DurableStore.MaxConns)
	if err != nil {
		logger.Error("durable store connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pgPool.Close()
	durableStore := durablestore.NewStore(pgPool)

	awsCfg, err := awsconfig.Load(ctx, cfg.Queue.Region, cfg.Queue.AssumeRoleARN)
	if err != nil {
		logger.Error("aws config load", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamodbClient := dynamodb.NewFromConfig(awsCfg)
	lambdaClient := lambda.NewFromConfig(awsCfg)

	hotStore := hotstore.NewStore(dynamodbClient, cfg.HotStore.TableName)
	queueClient := ingest.NewSQSClient(sqsClient, cfg.Queue.URL, cfg.Queue.WaitTimeSeconds, cfg.Queue.MaxNumberOfMessages)

	redisClient := locks.NewRedisClient(cfg.Lock)
	defer redisClient.Close()
	redisManager := locks.NewRedisManager(redisClient)
	lockBreakerCfg := toLocksCircuitBreakerConfig(cfg.Lock.CircuitBreaker)
	lockManager := locks.NewCircuitBreakerManager(redisManager, lockBreakerCfg)
	lockManager.OnStateChange(func(old, newState locks.CircuitState) {
		logger.Warn("migration lock circuit breaker state changed",
			slog.String("from", old.String()), slog.String("to", newState.String()))
	})
	defer lockManager.StopHealthCheck()

	natsCfg := natsclient.Config{
		URL:                   cfg.SideEffect.NATSURL,
		ConnectTimeout:        5 * time.Second,
		ReconnectWait:         2 * time.Second,
		MaxReconnects:         -1,
		PublishTimeout:        5 * time.Second,
		DrainTimeout:          10 * time.Second,
		DataLakeSubject:       cfg.SideEffect.DataLakeSubject,
		ClassificationSubject: cfg.SideEffect.ClassificationSubject,
	}
	natsClient := natsclient.NewClient(natsCfg, logger)
	if err := natsClient.Connect(ctx); err != nil {
		logger.Error("nats connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		logger.Info("draining nats connection")
		if err := natsClient.Drain(); err != nil {
			logger.Warn("nats drain error", slog.String("error", err.Error()))
		}
	}()
	if err := natsclient.EnsureStreams(ctx, natsClient.JetStream(), natsCfg); err != nil {
		logger.Error("nats ensure streams failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	validator := sideeffect.NewValidator()
	agents := sideeffect.AgentUUIDs{CSAT: cfg.SideEffect.AgentUUIDCSAT, NPS: cfg.SideEffect.AgentUUIDNPS}
	dispatcher := sideeffect.NewDispatcher(natsClient, validator, cfg.SideEffect.DataLakeSubject, cfg.SideEffect.ClassificationSubject, agents, logger)

	migrationService := migration.New(hotStore, durableStore, lockManager, dispatcher, metrics, logger)
	conversationRegistry := registry.New(durableStore, migrationService, logger)
	pipeline := ingest.NewPipeline(conversationRegistry, hotStore, dispatcher, cfg.HotStore.TTL, logger)
	coordinator := ingest.NewCoordinator(queueClient, pipeline, metrics, cfg.Ingestion, cfg.Shutdown, logger)

	lambdaInvoker := classify.NewLambdaInvoker(lambdaClient, cfg.Classify.LambdaFunctionName, cfg.Classify.RequestTimeout)
	classifyWorker := classify.NewWorker(hotStore, durableStore, lambdaInvoker, metrics, logger)
	classifySubscriber := classify.NewSubscriber(natsClient, natsclient.StreamClassification, cfg.SideEffect.ClassificationSubject, classifyWorker, metrics, logger)
	if err := classifySubscriber.Start(ctx); err != nil {
		logger.Error("classification subscriber start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer classifySubscriber.Stop()

	billingClient := billing.NewClient(&httpclient.Client{Timeout: cfg.Billing.RequestTimeout}, cfg.Billing.BaseURL, cfg.Billing.AuthToken, cfg.Billing.RateLimitPerSecond)
	billingBreaker := billing.NewCircuitBreaker(lockBreakerCfg, metrics.BillingCircuitState.Set)
	billingAggregator := billing.NewAggregator(durableStore, billingClient, billingBreaker, cfg.Billing.MaxRetryAttempts, cfg.Billing.RetryDelays, metrics, logger)
	billingTicker := time.NewTicker(24 * time.Hour)
	defer billingTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-billingTicker.C:
				if err := billingAggregator.RunDaily(ctx, time.Time{}); err != nil {
					logger.Error("billing daily rollup failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	metricsServer := httpserver.New(cfg.Prometheus.Addr, logger)
	go func() {
		if err := metricsServer.Run(ctx); err != nil {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		if err := coordinator.Run(ctx); err != nil {
			logger.Error("ingestion coordinator stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("conversation ingestor ready")
	<-ctx.Done()

	logger.Info("starting graceful shutdown sequence")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.OverallTimeout)
	coordinator.Shutdown(shutdownCtx)
	shutdownCancel()

	logger.Info("shutdown complete")
}
