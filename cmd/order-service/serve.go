package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
	"github.com/vasiliy-maslov/order-lifecycle/internal/db"
	"github.com/vasiliy-maslov/order-lifecycle/internal/eventbus"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/payment"
	"github.com/vasiliy-maslov/order-lifecycle/internal/telemetry"
	"github.com/vasiliy-maslov/order-lifecycle/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(a *app) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the notification channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, migrateOnStart bool) error {
	log.Info().Str("version", Version).Msg("order service starting")

	if migrateOnStart {
		if err := db.Migrate(cfg.Postgres); err != nil {
			return err
		}
	}

	stopMetrics, err := startMetrics(cfg)
	if err != nil {
		return err
	}
	defer stopMetrics()

	mirror, closeMirror, err := newMirror(ctx, cfg.PubSub)
	if err != nil {
		return err
	}
	defer closeMirror()
	var hubOpts []eventbus.HubOption
	if mirror != nil {
		hubOpts = append(hubOpts, eventbus.WithMirror(mirror))
	}

	c, err := newCore(ctx, cfg, hubOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	if mirror != nil && cfg.PubSub.SubscriptionID != "" {
		go func() {
			if err := mirror.Relay(ctx, cfg.PubSub.SubscriptionID, c.hub); err != nil {
				log.Error().Err(err).Msg("pubsub: relay stopped")
			}
		}()
	}

	c.channel.Start(ctx)

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		APIKey:        cfg.Payment.StripeAPIKey,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Currency:      cfg.Payment.Currency,
		Settings:      c.settings,
	})
	reconciler := payment.NewReconciler(c.orders, gateway)

	sweeper := order.NewSweeper(c.orderRepo, c.orders, cfg.Sweeper.Interval, cfg.Sweeper.Deadline,
		order.WithSweeperMeter(c.meter))
	go sweeper.Run(ctx)

	router := transport.NewRouter(transport.Handlers{
		Orders:      handler.NewOrderHandler(c.orders, reconciler),
		Admin:       handler.NewAdminHandler(c.orders, reconciler, c.settings, c.channel),
		Webhooks:    handler.NewWebhookHandler(reconciler, c.orders, cfg.Notify.InboundToken),
		Streams:     handler.NewStreamHandler(c.hub, c.orders, c.channel),
		Auth:        handler.NewAuthenticator(cfg.Auth.JWTSecret),
		PollLimiter: handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		DB:          c.pg.Pool,

		TrustProxyHeaders: cfg.App.TrustProxyHeaders,
	})

	// No WriteTimeout: event streams stay open for the life of the page.
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	c.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// newMirror returns a nil mirror when Pub/Sub is not configured.
func newMirror(ctx context.Context, cfg config.PubSubConfig) (*eventbus.PubSubMirror, func(), error) {
	if cfg.ProjectID == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	mirror, err := eventbus.NewPubSubMirror(client, cfg.TopicID)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	log.Info().Str("project", cfg.ProjectID).Str("topic", cfg.TopicID).Msg("pubsub: mirroring events")

	closeFn := func() {
		mirror.Close()
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("pubsub: failed to close client")
		}
	}
	return mirror, closeFn, nil
}

// startMetrics installs the meter provider; the returned func flushes the
// final measurements.
func startMetrics(cfg *config.Config) (func(), error) {
	shutdown, err := telemetry.SetupMetrics(cfg.Metrics, serviceName, Version, os.Stdout)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry: failed to flush metrics")
		}
	}, nil
}
