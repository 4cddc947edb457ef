package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/contestpulse/internal/aggregator"
	"github.com/lalithlochan/contestpulse/internal/api"
	"github.com/lalithlochan/contestpulse/internal/circuitbreaker"
	"github.com/lalithlochan/contestpulse/internal/config"
	"github.com/lalithlochan/contestpulse/internal/db"
	"github.com/lalithlochan/contestpulse/internal/jobs"
	"github.com/lalithlochan/contestpulse/internal/notify"
	"github.com/lalithlochan/contestpulse/internal/observ"
	"github.com/lalithlochan/contestpulse/internal/platform"
	"github.com/lalithlochan/contestpulse/internal/reconciler"
	"github.com/lalithlochan/contestpulse/internal/redis"
	"github.com/lalithlochan/contestpulse/internal/worker"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	logger.Info("starting contestpulse",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	dbConfig := db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	if err := db.RunMigrations(dbConfig.ConnString()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the fired set and the API rate limiter; both degrade
	// gracefully without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory fired set and no rate limiting",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var (
		fired       notify.FiredSet
		evictor     jobs.Evictor
		rateLimiter *redis.RateLimiter
	)
	if redisClient != nil {
		defer redisClient.Close()
		fired = redis.NewFiredStore(redisClient, logger)
		if cfg.RateLimit > 0 {
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimit,
				Window: cfg.RateLimitWindow,
			})
		}
	} else {
		mem := notify.NewMemoryFiredSet()
		fired = mem
		evictor = mem
	}

	// Notification sinks
	senders, err := buildSenders(ctx, cfg, logger)
	if err != nil {
		return err
	}
	breakers := make([]*circuitbreaker.CircuitBreaker, 0, len(senders))
	routed := make([]worker.Sender, 0, len(senders))
	for _, s := range senders {
		breakers = append(breakers, s.Breaker())
		routed = append(routed, s)
	}
	notifier := worker.NewNotifier(worker.NewMultiSender(logger, routed...), logger)

	// Pipeline
	var limiter *rate.Limiter
	if cfg.FetchRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FetchRPS), 1)
	}
	client := platform.NewClient(platform.ClientConfig{Limiter: limiter})
	window := cfg.Window()
	agg := aggregator.New(logger,
		platform.NewLeetCode(client, platform.Options{BaseURL: cfg.LeetCodeURL, Window: window}),
		platform.NewCodeforces(client, platform.Options{BaseURL: cfg.CodeforcesURL, Window: window}),
		platform.NewCodeChef(client, platform.Options{BaseURL: cfg.CodeChefURL, Window: window}),
	)
	rec := reconciler.New(repo, logger)
	scheduler := notify.NewScheduler(repo, fired, notifier, logger, notify.Config{
		Thresholds: cfg.ThresholdsMinutes,
		Tolerance:  cfg.ToleranceMinutes,
		Recipients: cfg.Recipients,
	})
	reminders := worker.NewReminderWorker(repo, notifier, worker.ReminderConfig{}, logger)

	opts := []jobs.Option{jobs.WithReminders(reminders)}
	if evictor != nil {
		opts = append(opts, jobs.WithEvictor(evictor))
	}
	runner := jobs.New(agg, rec, scheduler, jobs.Config{
		AggregateInterval: cfg.AggregateInterval,
		NotifyInterval:    cfg.NotifyInterval,
	}, logger, opts...)

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		runner.Start(ctx)
	}()

	// HTTP
	handler := api.NewHandler(logger, repo, runner, database, breakers...)
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewRouter(handler, logger, api.RouterConfig{
			Limiter: rateLimiter,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		stop()
		<-jobsDone
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	<-jobsDone
	logger.Info("server stopped gracefully")
	return nil
}

// buildSenders creates one breaker-protected sender per configured sink.
// Email always has a sender; the AWS sinks are skipped when their client
// cannot be created.
func buildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]*circuitbreaker.ProtectedSender, error) {
	var senders []*circuitbreaker.ProtectedSender

	switch cfg.EmailTransport {
	case config.EmailSES:
		ses, err := worker.NewSESSender(ctx, worker.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			Endpoint:  cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email sender: %w", err)
		}
		senders = append(senders, circuitbreaker.Protect("ses", ses, logger))
	case config.EmailSMTP:
		senders = append(senders, circuitbreaker.Protect("smtp", worker.NewSMTPSender(worker.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger), logger))
	default:
		senders = append(senders, circuitbreaker.Protect("log", worker.NewLogSender(logger, worker.ChannelEmail), logger))
	}

	sns, err := worker.NewSNSSender(ctx, worker.SNSConfig{
		Region:   cfg.SNSRegion,
		Endpoint: cfg.AWSEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS and topic notifications disabled", zap.Error(err))
	} else {
		senders = append(senders, circuitbreaker.Protect("sns", sns, logger))
	}

	if cfg.SQSQueueURL != "" {
		sqs, err := worker.NewSQSSender(ctx, worker.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			logger.Warn("SQS sender unavailable, queue notifications disabled", zap.Error(err))
		} else {
			senders = append(senders, circuitbreaker.Protect("sqs", sqs, logger))
		}
	}

	senders = append(senders, circuitbreaker.Protect("webhook", worker.NewWebhookSender(logger, worker.WebhookConfig{
		Timeout:      cfg.WebhookTimeout,
		AllowPrivate: cfg.WebhookAllowPrivate,
	}), logger))

	logger.Info("initialized notification sinks",
		zap.String("email_transport", cfg.EmailTransport),
		zap.Int("sinks", len(senders)),
		zap.Bool("notifications_enabled", cfg.NotificationsEnabled()),
	)

	return senders, nil
}
