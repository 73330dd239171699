package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
	"github.com/vasiliy-maslov/order-lifecycle/internal/db"
	"github.com/vasiliy-maslov/order-lifecycle/internal/eventbus"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
	"github.com/vasiliy-maslov/order-lifecycle/internal/notify"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/settings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// core is the wiring shared by the server and the maintenance commands.
type core struct {
	pg        *db.Postgres
	hub       *eventbus.Hub
	settings  *settings.Service
	channel   *notify.Channel
	orderRepo order.Repository
	orders    order.Service
	meter     metric.Meter
}

func newCore(ctx context.Context, cfg *config.Config, hubOpts ...eventbus.HubOption) (*core, error) {
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := &core{
		pg:    pg,
		hub:   eventbus.NewHub(hubOpts...),
		meter: otel.Meter(serviceName),
	}
	c.settings = settings.NewService(settings.NewRepository(pg.Pool), c.hub)

	c.channel = notify.NewChannel(newNotifyTransport(cfg.Notify),
		notify.WithCountryCode(cfg.Notify.CountryCode),
		notify.WithSendTimeout(cfg.Notify.Timeout),
		notify.WithStateHook(func(ctx context.Context, s notify.Status) {
			c.hub.Publish(ctx, handler.TopicChannelStatus, s, order.RoomSystem)
		}),
	)

	c.orderRepo = order.NewRepository(pg.Pool)
	c.orders = order.NewService(c.orderRepo, c.settings, c.hub, c.channel, order.WithMeter(c.meter))
	return c, nil
}

func newNotifyTransport(cfg config.NotifyConfig) notify.Transport {
	if cfg.GatewayURL == "" {
		log.Info().Msg("notify: no gateway configured, messages will be logged")
		return notify.LogTransport{}
	}
	return notify.NewHTTPTransport(cfg.GatewayURL, cfg.GatewayToken, cfg.Timeout, cfg.PollInterval)
}

// waitConnected gives the transport a moment to report its first state so
// one-shot commands do not drop their notifications.
func (c *core) waitConnected(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.channel.State() != notify.StateConnected {
		select {
		case <-ctx.Done():
			log.Warn().Str("state", string(c.channel.State())).Msg("notify: transport not connected, notifications will be skipped")
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (c *core) Close() {
	c.hub.Close()
	c.pg.Close()
}
