package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/news-clipping/internal/automation"
	"github.com/cuongbtq/news-clipping/internal/config"
	"github.com/cuongbtq/news-clipping/internal/interpreter"
	"github.com/cuongbtq/news-clipping/internal/llm"
	"github.com/cuongbtq/news-clipping/internal/notifier"
	"github.com/cuongbtq/news-clipping/internal/orchestrator"
	"github.com/cuongbtq/news-clipping/internal/publisher"
	"github.com/cuongbtq/news-clipping/internal/worker"
	"github.com/cuongbtq/news-clipping/internal/worker/storage"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/cuongbtq/news-clipping/shared/postgresql"
	"github.com/cuongbtq/news-clipping/shared/rabbitmq"
	"github.com/cuongbtq/news-clipping/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(cfg.Database.URL(), appLogger.Logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	counter, closeCounter := initDeliveryCounter(ctx, &cfg.Redis, appLogger.Logger)
	defer closeCounter()

	orch, err := initOrchestrator(ctx, cfg, storage.NewStorage(dbClient, appLogger.Logger), appLogger.Logger)
	if err != nil {
		return err
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Logger,
		Consumer:        rabbitClient,
		Processor:       orch,
		Counter:         counter,
		WorkerID:        cfg.Worker.ID,
		Concurrency:     cfg.Worker.Concurrency,
		PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
		MaxRedeliveries: cfg.Worker.MaxRedeliveries,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error", slog.Any("error", runErr))
	}

	// Cancel context to stop worker
	cancel()

	// Stop waits for in-flight jobs and cancels them after the worker's shutdown timeout
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout + 5*time.Second):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client and declares the work and dead-letter queues
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
	}
	if cfg.DeadLetter.Enabled {
		rabbitConfig.DeadLetterExchange = cfg.DeadLetter.Exchange
		rabbitConfig.DeadLetterQueue = cfg.DeadLetter.Queue
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initDeliveryCounter prefers Redis so all workers share counts, falling back to process memory
func initDeliveryCounter(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (worker.DeliveryCounter, func()) {
	if cfg.URL == "" {
		logger.Info("Redis not configured, counting redeliveries in memory")
		return worker.NewMemoryCounter(), func() {}
	}

	client, err := redis.NewClient(ctx, cfg.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, counting redeliveries in memory", slog.Any("error", err))
		return worker.NewMemoryCounter(), func() {}
	}

	return worker.NewRedisCounter(client, cfg.KeyPrefix, cfg.TTL), func() { client.Close() }
}

// initOrchestrator builds the pipeline stages and their collaborators
func initOrchestrator(ctx context.Context, cfg *config.Config, store *storage.Storage, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	provider, err := llm.NewProvider(ctx, llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize language model: %w", err)
	}
	pricing := llm.Pricing{InputPer1K: cfg.LLM.InputCostPer1K, OutputPer1K: cfg.LLM.OutputCostPer1K}

	interp := interpreter.New(provider, interpreter.Config{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Pricing:     pricing,
	}, logger)

	backend, err := automation.NewHTTPBackend(cfg.Automation.BackendURL, cfg.Automation.Token, cfg.Automation.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser backend: %w", err)
	}

	engine := automation.NewChromeEngine(provider, automation.ChromeConfig{
		AllowedDomains: cfg.Automation.AllowedDomains,
		MaxPageChars:   cfg.Automation.MaxPageChars,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.PlannerMaxTokens,
		Pricing:        pricing,
	}, logger)

	runner := automation.NewRunner(backend, engine, automation.Config{
		MaxAttempts:      cfg.Automation.MaxAttempts,
		Backoff:          cfg.Automation.Backoff,
		AttemptTimeout:   cfg.Automation.AttemptTimeout,
		MaxSteps:         cfg.Automation.MaxSteps,
		ProgressInterval: cfg.Automation.ProgressInterval,
		ObserverGrace:    cfg.Automation.ObserverGrace,
		AllowedDomains:   cfg.Automation.AllowedDomains,
	}, logger)

	pub, err := initPublisher(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(&orchestrator.Config{
		Store:       store,
		Interpreter: interp,
		Automator:   runner,
		Publisher:   pub,
		Notifier:    initNotifier(&cfg.Notification, logger),
		Defaults: orchestrator.Defaults{
			Client:   cfg.Clipping.Client,
			Period:   cfg.Clipping.Period,
			Site:     cfg.Clipping.Site,
			MaxItems: cfg.Clipping.MaxItems,
			MinItems: cfg.Clipping.MinItems,
			Keywords: cfg.Clipping.Keywords,
			Timeout:  cfg.Automation.AttemptTimeout,
		},
		Logger: logger,
	}), nil
}

// initPublisher uses the object store when credentials are set; the local workspace always backs it
func initPublisher(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*publisher.Publisher, error) {
	local, err := publisher.NewLocalStore(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local artifact store: %w", err)
	}

	s3Store, err := publisher.NewS3Store(ctx, publisher.S3Config{
		Endpoint:     cfg.Endpoint,
		Region:       cfg.Region,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		Bucket:       cfg.Bucket,
		UsePathStyle: cfg.UsePathStyle,
	}, logger)
	switch {
	case errors.Is(err, publisher.ErrStoreDisabled):
		logger.Info("Object store not configured, artifacts are written locally",
			slog.String("workspace", cfg.WorkspaceDir),
		)
		return publisher.New(nil, local, cfg.Formats, logger), nil
	case err != nil:
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	bucketCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s3Store.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("Object store bucket check failed, uploads may fall back to local",
			slog.String("bucket", cfg.Bucket),
			slog.Any("error", err),
		)
	}

	return publisher.New(s3Store, local, cfg.Formats, logger), nil
}

// initNotifier enables the channels that have credentials
func initNotifier(cfg *config.NotificationConfig, logger *slog.Logger) *notifier.Dispatcher {
	var channels []notifier.Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, notifier.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if cfg.SMTP.Host != "" {
		channels = append(channels, notifier.NewEmail(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			To:       cfg.SMTP.To,
		}))
	}
	if len(channels) == 0 {
		logger.Info("No notification channels configured")
	}
	return notifier.NewDispatcher(logger, channels...)
}
