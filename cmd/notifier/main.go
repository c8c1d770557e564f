package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"tailorhub/internal/common/database"
	"tailorhub/internal/common/events"
	"tailorhub/internal/common/nats"
	"tailorhub/internal/notify"
)

// Config holds notifier configuration
type Config struct {
	Environment   string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	ConsumerName  string `envconfig:"NOTIFIER_CONSUMER" default:"notifier"`

	Database database.Config
	NATS     nats.Config
	Notify   notify.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("notifier failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.TraceContext{})

	var tokens notify.TokenStore
	switch cfg.StorageDriver {
	case "postgres":
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()
		tokens = notify.NewPostgresTokens(db)
	case "memory":
		logger.Warn("using in-memory device tokens, nothing will be delivered until tokens are registered here")
		tokens = notify.NewMemoryTokens()
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.Notify.PushURL != "" {
		sender = notify.NewHTTPSender(cfg.Notify.PushURL, cfg.Notify.PushAPIKey, cfg.Notify.Timeout)
	}
	service := notify.NewService(tokens, sender, logger)

	nc, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, nats.DefaultStreamConfig(cfg.NATS.Stream, []string{nats.SubjectPrefix + ">"})); err != nil {
		return err
	}
	consumer, err := nc.EnsureConsumer(ctx, nats.DefaultConsumerConfig(
		cfg.ConsumerName,
		cfg.NATS.Stream,
		nats.Subject(events.EventNotificationRequested),
	))
	if err != nil {
		return err
	}

	logger.Info("starting notifier",
		"environment", cfg.Environment,
		"consumer", cfg.ConsumerName,
		"stream", cfg.NATS.Stream,
	)

	sub := nats.NewSubscriber(nc, consumer, logger)
	err = sub.Start(ctx, func(ctx context.Context, evt *events.Event) error {
		deliverCtx, cancel := context.WithTimeout(ctx, cfg.Notify.Timeout)
		defer cancel()
		return service.HandleEvent(deliverCtx, evt)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
