package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/ambercart/api/internal/di"
	"github.com/ambercart/api/internal/handlers"
	"github.com/ambercart/api/internal/payments"
	"github.com/ambercart/api/internal/platform/config"
	"github.com/ambercart/api/internal/platform/events"
	pfirestore "github.com/ambercart/api/internal/platform/firestore"
	"github.com/ambercart/api/internal/platform/idempotency"
	"github.com/ambercart/api/internal/platform/observability"
	"github.com/ambercart/api/internal/platform/secrets"
	firestoreRepo "github.com/ambercart/api/internal/repositories/firestore"
	"github.com/ambercart/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to connect to firestore", zap.Error(err))
	}
	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	eventLogger := observability.EventLogger(logger.Named("services"))

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		Logger:        eventLogger,
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	publisher, pubsubClient, err := newOrderEventPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	// No SMTP transport is wired yet, so transactional mail is logged. The
	// Mailer interface keeps the swap local to this line.
	mailer := services.NewLogMailer(observability.EventLogger(logger.Named("mail")))

	container, err := di.NewContainer(cfg, registry, di.Deps{
		Payments: stripeProvider,
		Events:   publisher,
		Mailer:   mailer,
		Logger:   eventLogger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	adminHandlers := handlers.NewAdminOrderHandlers(container.Services.Orders)
	newsletterHandlers := handlers.NewNewsletterHandlers(container.Services.Newsletter)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Orders)
	healthHandlers := handlers.NewHealthHandlers(container.Services.System)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			handlers.IdentityMiddleware(),
			idempotency.Middleware(idempotencyStore,
				idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency")))),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithNewsletterRoutes(newsletterHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithAdminMiddlewares(handlers.RequireAdmin()),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go runIdempotencyCleanup(cleanupCtx, idempotencyStore, logger.Named("idempotency"))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ambercart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runIdempotencyCleanup periodically removes expired idempotency records so
// the collection does not grow without bound.
func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now(), 500)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency records purged", zap.Int("removed", removed))
			}
		}
	}
}

// newOrderEventPublisher builds the Pub/Sub publisher when a topic is
// configured. Without one the service runs with events disabled.
func newOrderEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, *pubsub.Client, error) {
	topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicID == "" {
		logger.Info("order events topic not configured; lifecycle events disabled")
		return nil, nil, nil
	}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		return nil, nil, errors.New("PUBSUB_PROJECT_ID is required when an events topic is configured")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}

	publisher, err := events.NewPubSubOrderPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}
