package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"gopkg.in/gomail.v2"

	"github.com/classpoint/notify/internal/config"
	"github.com/classpoint/notify/internal/directory"
	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/event"
	"github.com/classpoint/notify/internal/handler"
	"github.com/classpoint/notify/internal/infra/postgresql"
	"github.com/classpoint/notify/internal/infra/postgresql/migrations"
	infraredis "github.com/classpoint/notify/internal/infra/redis"
	"github.com/classpoint/notify/internal/observability"
	"github.com/classpoint/notify/internal/profile"
	"github.com/classpoint/notify/internal/provider"
	"github.com/classpoint/notify/internal/repository"
	"github.com/classpoint/notify/internal/service"
	"github.com/classpoint/notify/internal/socket"
	"github.com/classpoint/notify/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service terminated", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := event.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	metrics := observability.NewMetrics()

	outbox := repository.NewGormOutboxRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	dir := directory.NewGormDirectory(db)

	limiter, err := infraredis.NewSendRateLimiter(rdb, cfg.SendRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	hub := socket.NewHub(logger)
	defer hub.Close()

	registry, err := buildProviderRegistry(ctx, cfg, dir, hub, logger)
	if err != nil {
		return err
	}

	svc, err := service.NewNotificationService(outbox, deliveries, dir, logger)
	if err != nil {
		return fmt.Errorf("notification service initialization failed: %w", err)
	}

	dispatcher, err := service.NewDispatcher(outbox, deliveries, registry, limiter, service.DispatcherConfig{
		BatchSize:      cfg.DispatchBatchSize,
		Concurrency:    cfg.DispatchConcurrency,
		PollInterval:   time.Duration(cfg.DispatchPollSec) * time.Second,
		ClaimLease:     time.Duration(cfg.ClaimLeaseSec) * time.Second,
		Retry: service.RetryPolicy{
			BaseDelay:   time.Duration(cfg.RetryBaseDelaySec) * time.Second,
			MaxDelay:    time.Duration(cfg.RetryMaxDelaySec) * time.Second,
			MaxAttempts: cfg.RetryMaxAttempts,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetStatusPublisher(event.NewRabbitMQStatusPublisher(broker))

	scanner, err := service.NewRetryScanner(deliveries, dispatcher, 0, 0, logger)
	if err != nil {
		return fmt.Errorf("retry scanner initialization failed: %w", err)
	}

	consumer := event.NewRabbitMQConsumer(broker, cfg.ConsumerPrefetch, logger)

	app, err := newFiberApp(logger, metrics, svc, sqlDB, rdb)
	if err != nil {
		return err
	}
	socketServer := newSocketServer(cfg, hub, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return scanner.Start(gctx) })
	g.Go(func() error {
		return consumer.Consume(gctx, ingestEventHandler(svc, logger))
	})
	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("socket listening", zap.Int("port", cfg.SocketPort))
		if err := socketServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("socket server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
		if err := socketServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("socket shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func buildProviderRegistry(
	ctx context.Context,
	cfg *config.Config,
	dir directory.Directory,
	hub *socket.Hub,
	logger *zap.Logger,
) (*provider.Registry, error) {
	emailProvider, err := provider.NewEmailProvider(
		gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		dir,
		cfg.SMTPFrom,
	)
	if err != nil {
		return nil, fmt.Errorf("email provider initialization failed: %w", err)
	}

	firebaseApp, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FCMCredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase initialization failed: %w", err)
	}
	messagingClient, err := firebaseApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm client initialization failed: %w", err)
	}

	invalidator, err := profile.NewHTTPTokenInvalidator(cfg.ProfileCallbackURL)
	if err != nil {
		return nil, fmt.Errorf("profile callback initialization failed: %w", err)
	}

	pushProvider, err := provider.NewPushProvider(messagingClient, dir, invalidator, logger)
	if err != nil {
		return nil, fmt.Errorf("push provider initialization failed: %w", err)
	}

	// The socket provider talks to the in-process hub; only the outbound
	// network providers sit behind a breaker.
	return provider.NewRegistry(
		provider.NewSocketProvider(hub),
		provider.WithBreaker(emailProvider, logger),
		provider.WithBreaker(pushProvider, logger),
	), nil
}

// ingestEventHandler feeds broker events into the facade. Events the domain
// rejects are dropped, not requeued; requeueing cannot fix them.
func ingestEventHandler(svc *service.NotificationService, logger *zap.Logger) event.EventHandler {
	return func(ctx context.Context, evt domain.Event) error {
		_, err := svc.Notify(ctx, evt)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrValidation) ||
			errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, domain.ErrNoTargets) {
			logger.Warn("dropping event",
				zap.String("kind", evt.Kind.String()),
				zap.String("correlationId", evt.CorrelationID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
}

func newFiberApp(
	logger *zap.Logger,
	metrics *observability.Metrics,
	svc *service.NotificationService,
	sqlDB *sql.DB,
	rdb *redis.Client,
) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:      "notify",
		ErrorHandler: transport.ErrorHandler(logger),
	})

	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	if err := handler.RegisterNotificationRoutes(app, svc); err != nil {
		return nil, fmt.Errorf("route registration failed: %w", err)
	}

	return app, nil
}

func newSocketServer(cfg *config.Config, hub *socket.Hub, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", socket.Handler(hub, logger))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SocketPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
