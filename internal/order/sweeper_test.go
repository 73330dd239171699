package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

// staleLister returns a fixed snapshot regardless of the current store state.
type staleLister struct {
	orders []order.Order
}

func (l staleLister) ListExpired(context.Context, time.Time) ([]order.Order, error) {
	return l.orders, nil
}

type failingLister struct{ err error }

func (l failingLister) ListExpired(context.Context, time.Time) ([]order.Order, error) {
	return nil, l.err
}

func TestSweeper_CancelsOnlyExpiredAwaitingOrders(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	expired := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	expired.CreatedAt = start
	f.repo.Put(expired)

	paid := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	paid.CreatedAt = start
	f.repo.Put(paid)
	_, err := f.svc.ApprovePayment(context.Background(), paid.ID, "pi_paid", order.MethodCard)
	require.NoError(t, err)

	fresh := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	fresh.CreatedAt = start.Add(4 * time.Minute)
	f.repo.Put(fresh)

	sweepAt := start.Add(6 * time.Minute)
	sweeper := order.NewSweeper(f.repo, f.svc, time.Minute, 5*time.Minute,
		order.WithSweeperClock(func() time.Time { return sweepAt }))

	notificationsBefore := f.notifier.Count()
	res, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, order.SweepResult{Scanned: 1, Cancelled: 1}, res)

	got, _ := f.repo.GetByID(context.Background(), expired.ID)
	assert.Equal(t, order.StatusCancelled, got.Status)

	got, _ = f.repo.GetByID(context.Background(), paid.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)

	got, _ = f.repo.GetByID(context.Background(), fresh.ID)
	assert.Equal(t, order.StatusAwaitingPayment, got.Status)

	sent := f.notifier.Sent()[notificationsBefore:]
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "CANCELLED")

	res, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Cancelled)
	assert.Equal(t, notificationsBefore+1, f.notifier.Count())
}

func TestSweeper_SkipsOrdersPaidAfterScan(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	snapshot := o

	_, err := f.svc.ApprovePayment(context.Background(), o.ID, "pi_race", order.MethodPix)
	require.NoError(t, err)

	sweeper := order.NewSweeper(staleLister{orders: []order.Order{snapshot}}, f.svc, time.Minute, 5*time.Minute)
	res, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, order.SweepResult{Scanned: 1, Skipped: 1}, res)

	got, _ := f.repo.GetByID(context.Background(), o.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Len(t, f.publisher.Topic(order.TopicOrderUpdated), 1, "only the approval is published")
}

func TestSweeper_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	broken := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	healthy := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	f.repo.UpdateErr[broken.ID] = errors.New("deadlock detected")

	sweeper := order.NewSweeper(staleLister{orders: []order.Order{broken, healthy}}, f.svc, time.Minute, 5*time.Minute)
	res, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, order.SweepResult{Scanned: 2, Cancelled: 1, Failed: 1}, res)

	got, _ := f.repo.GetByID(context.Background(), healthy.ID)
	assert.Equal(t, order.StatusCancelled, got.Status)
}

func TestSweeper_ListFailure(t *testing.T) {
	f := newFixture(t)
	listErr := errors.New("db down")

	sweeper := order.NewSweeper(failingLister{err: listErr}, f.svc, time.Minute, 5*time.Minute)
	_, err := sweeper.SweepOnce(context.Background())
	assert.ErrorIs(t, err, listErr)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, order.StatusAwaitingPayment, order.PaymentPending)
	o.CreatedAt = time.Now().Add(-time.Hour)
	f.repo.Put(o)

	sweeper := order.NewSweeper(f.repo, f.svc, 10*time.Millisecond, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := f.repo.GetByID(context.Background(), o.ID)
		return err == nil && got.Status == order.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
	assert.Equal(t, 1, f.notifier.Count())
}
