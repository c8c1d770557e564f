package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	commonapi "tailorhub/internal/common/api"
	"tailorhub/internal/common/database"
	"tailorhub/internal/common/events"
	"tailorhub/internal/common/idempotency"
	"tailorhub/internal/common/middleware"
	"tailorhub/internal/common/money"
	"tailorhub/internal/common/nats"
	"tailorhub/internal/marketplace"
	"tailorhub/internal/marketplace/api"
	"tailorhub/internal/notify"
	"tailorhub/internal/order"
	orderstore "tailorhub/internal/order/store"
	"tailorhub/internal/payment"
	paymentstore "tailorhub/internal/payment/store"
	"tailorhub/internal/wallet"
	walletstore "tailorhub/internal/wallet/store"
)

// Config holds service configuration
type Config struct {
	Port          int      `envconfig:"HTTP_PORT" default:"8080"`
	Environment   string   `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel      string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string   `envconfig:"LOG_FORMAT" default:"json"`
	StorageDriver string   `envconfig:"STORAGE_DRIVER" default:"postgres"`
	CORSOrigins   []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	Marketplace marketplace.Config
	Database    database.Config
	NATS        nats.Config
	Redis       idempotency.RedisConfig
	Payment     payment.Config
	Notify      notify.Config
}

type stores struct {
	wallets  walletstore.Store
	orders   orderstore.Store
	payments paymentstore.Store
	tokens   notify.TokenStore
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
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	currency, err := money.ParseCurrency(cfg.Marketplace.Currency)
	if err != nil {
		return err
	}

	// Storage
	var (
		st     stores
		checks = map[string]func(context.Context) error{}
	)
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.Database.Migrate {
			if err := database.Migrate(cfg.Database.URL, logger); err != nil {
				return err
			}
		}
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()
		checks["database"] = db.HealthCheck

		st = stores{
			wallets:  walletstore.NewPostgres(db, currency),
			orders:   orderstore.NewPostgres(db),
			payments: paymentstore.NewPostgres(db),
			tokens:   notify.NewPostgresTokens(db),
		}
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		st = stores{
			wallets:  walletstore.NewMemory(currency),
			orders:   orderstore.NewMemory(),
			payments: paymentstore.NewMemory(),
			tokens:   notify.NewMemoryTokens(),
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	// Event publishing
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.Enabled {
		nc, err := nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if _, err := nc.EnsureStream(ctx, nats.DefaultStreamConfig(cfg.NATS.Stream, []string{nats.SubjectPrefix + ">"})); err != nil {
			return err
		}
		checks["nats"] = func(context.Context) error { return nc.HealthCheck() }
		publisher = nats.NewPublisher(nc, logger)
	}

	// Idempotency keys
	var idemStore middleware.IdempotencyStore = idempotency.NewMemoryStore()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		idemStore = idempotency.NewRedisStore(rdb)
	}

	// Notifications
	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.Notify.PushURL != "" {
		sender = notify.NewHTTPSender(cfg.Notify.PushURL, cfg.Notify.PushAPIKey, cfg.Notify.Timeout)
	}
	notifyService := notify.NewService(st.tokens, sender, logger)

	var (
		orderNotifier order.Notifier
		queue         *notify.Queue
	)
	if cfg.Notify.Forward && cfg.NATS.Enabled {
		orderNotifier = notify.NewForwarder(publisher)
	} else {
		if cfg.Notify.Forward {
			logger.Warn("NOTIFY_FORWARD requires NATS_ENABLED, delivering in-process")
		}
		queue = notify.NewQueue(notifyService, cfg.Notify.QueueSize, cfg.Notify.Timeout, logger)
		orderNotifier = queue
	}

	// Create services
	ledger := wallet.NewLedger(st.wallets, publisher, logger)
	orderService := order.NewService(st.orders, orderNotifier, publisher, logger)
	verifier, err := payment.NewVerifier(cfg.Payment, st.payments, orderService, ledger, publisher, logger)
	if err != nil {
		return err
	}
	service, err := marketplace.NewService(cfg.Marketplace, ledger, orderService, verifier, notifyService, logger)
	if err != nil {
		return err
	}

	// Create handlers
	handler := api.NewHandler(service, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				logger.Warn("health check failed", "component", name, "error", err)
				commonapi.WriteErrorWithDetails(w, http.StatusServiceUnavailable, commonapi.ErrCodeServiceUnavail,
					"service unhealthy", map[string]string{"component": name})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, cfg.Redis.TTL, logger))
		r.Mount("/", handler.Routes())
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting tailorhub service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", cfg.StorageDriver,
			"initial_status", cfg.Marketplace.InitialStatus,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Wait for shutdown
		<-gctx.Done()

		// Graceful shutdown
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if queue != nil {
		g.Go(func() error {
			return queue.Run(gctx, cfg.Notify.Workers)
		})
	}

	return g.Wait()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
