package order

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

type ExpiredLister interface {
	ListExpired(ctx context.Context, cutoff time.Time) ([]Order, error)
}

type Transitioner interface {
	Transition(ctx context.Context, id uuid.UUID, target Status, opts ...TransitionOption) (*Order, error)
}

type SweepResult struct {
	Scanned   int
	Cancelled int
	Skipped   int
	Failed    int
}

// Sweeper cancels orders that stayed in awaiting_payment past the deadline.
// Cancellation goes through the regular Transition path.
type Sweeper struct {
	lister       ExpiredLister
	transitioner Transitioner
	interval     time.Duration
	deadline     time.Duration
	now          func() time.Time
	metrics      *metrics
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithSweeperMeter(m metric.Meter) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = newMetrics(m)
	}
}

func NewSweeper(lister ExpiredLister, transitioner Transitioner, interval, deadline time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		lister:       lister,
		transitioner: transitioner,
		interval:     interval,
		deadline:     deadline,
		now:          time.Now,
		metrics:      newMetrics(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled. Sweeps run one at a time;
// ticks that fire while a sweep is in progress are dropped by the ticker.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Dur("deadline", s.deadline).Msg("sweeper: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("sweeper: sweep failed")
			}
		}
	}
}

// SweepOnce performs a single scan. A failure on one order is logged and the
// remaining orders are still processed.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	cutoff := s.now().Add(-s.deadline)
	expired, err := s.lister.ListExpired(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Scanned = len(expired)

	for _, o := range expired {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		_, err := s.transitioner.Transition(ctx, o.ID, StatusCancelled, OnlyFrom(StatusAwaitingPayment))
		switch {
		case err == nil:
			res.Cancelled++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrOrderNotFound):
			res.Skipped++
			log.Debug().Err(err).Stringer("order_id", o.ID).Msg("sweeper: order no longer eligible")
		default:
			res.Failed++
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("sweeper: failed to cancel expired order")
		}
	}

	s.metrics.expiredOrders(ctx, res.Cancelled)
	if res.Scanned > 0 {
		log.Info().
			Int("scanned", res.Scanned).
			Int("cancelled", res.Cancelled).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("sweeper: sweep finished")
	}
	return res, nil
}
