package order_test

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/order-lifecycle/internal/config"
	"github.com/vasiliy-maslov/order-lifecycle/internal/db"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

var testPool *pgxpool.Pool

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestMain(m *testing.M) {
	cfg := config.PostgresConfig{
		Host:            envOr("DB_HOST_TEST", "localhost"),
		Port:            envOr("DB_PORT_TEST", "5432"),
		User:            envOr("DB_USER_TEST", "postgres"),
		Password:        envOr("DB_PASSWORD_TEST", "123456"),
		DBName:          envOr("DB_NAME_TEST", "orders_test"),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  "../../migrations",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	pg, err := db.New(ctx, cfg)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("test database unavailable, repository tests will be skipped")
	} else if err := db.Migrate(cfg); err != nil {
		log.Warn().Err(err).Msg("test database migrations failed, repository tests will be skipped")
		pg.Close()
	} else {
		testPool = pg.Pool
	}

	exitCode := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	os.Exit(exitCode)
}

func setupRepository(t *testing.T) order.Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("no test database configured")
	}

	truncate := func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE TABLE messages, orders")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)

	return order.NewRepository(testPool)
}

func newPendingOrder(contact string) *order.Order {
	return &order.Order{
		CustomerName:    "Ana",
		CustomerContact: contact,
		Items:           json.RawMessage(`[{"sku":"beer","qty":2}]`),
		Total:           decimal.RequireFromString("100.00"),
		Status:          order.StatusAwaitingPayment,
		PaymentStatus:   order.PaymentPending,
	}
}

func TestPostgresRepository_CreateAndGet(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newPendingOrder("11987654321")
	o.CustomerID = uuid.NullUUID{UUID: uuid.Must(uuid.NewV4()), Valid: true}
	o.DeliveryAddress = "Rua A, 10"
	require.NoError(t, repo.Create(ctx, o))
	require.NotEqual(t, uuid.Nil, o.ID)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.CustomerID, got.CustomerID)
	assert.Equal(t, "Rua A, 10", got.DeliveryAddress)
	assert.JSONEq(t, string(o.Items), string(got.Items))
	assert.True(t, got.Total.Equal(o.Total))
	assert.Equal(t, order.StatusAwaitingPayment, got.Status)
	assert.Empty(t, got.PaymentMethod)
	assert.Empty(t, got.PaymentReference)

	_, err = repo.GetByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_ApprovePaymentOnce(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newPendingOrder("11987654321")
	require.NoError(t, repo.Create(ctx, o))

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := repo.ApprovePayment(ctx, o.ID, "", order.MethodCash)
			assert.NoError(t, err)
			if updated != nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, order.MethodCash, got.PaymentMethod)
}

func TestPostgresRepository_ApprovePaymentGuards(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	cancelled := newPendingOrder("11900000001")
	require.NoError(t, repo.Create(ctx, cancelled))
	updated, err := repo.UpdateStatus(ctx, cancelled.ID, order.StatusCancelled, []order.Status{order.StatusAwaitingPayment})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, order.StatusCancelled, updated.Status)

	updated, err = repo.ApprovePayment(ctx, cancelled.ID, "pi_late", order.MethodPix)
	require.NoError(t, err)
	assert.Nil(t, updated)

	first := newPendingOrder("11900000002")
	second := newPendingOrder("11900000003")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	updated, err = repo.ApprovePayment(ctx, first.ID, "pi_same", order.MethodCard)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, order.PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, order.StatusPending, updated.Status)
	assert.Equal(t, "pi_same", updated.PaymentReference)

	_, err = repo.ApprovePayment(ctx, second.ID, "pi_same", order.MethodCard)
	assert.ErrorIs(t, err, order.ErrDuplicatePaymentReference)
}

func TestPostgresRepository_UpdateStatus(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newPendingOrder("11987654321")
	require.NoError(t, repo.Create(ctx, o))

	updated, err := repo.UpdateStatus(ctx, o.ID, order.StatusPreparing, []order.Status{order.StatusPending})
	require.NoError(t, err)
	assert.Nil(t, updated, "source status does not match")

	updated, err = repo.UpdateStatus(ctx, o.ID, order.StatusPreparing, []order.Status{order.StatusAwaitingPayment, order.StatusPending})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, order.StatusPreparing, updated.Status)
	assert.Equal(t, o.CustomerContact, updated.CustomerContact)

	updated, err = repo.UpdateStatus(ctx, uuid.Must(uuid.NewV4()), order.StatusPreparing, []order.Status{order.StatusPending})
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestPostgresRepository_ListExpired(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	old := newPendingOrder("11900000001")
	require.NoError(t, repo.Create(ctx, old))
	_, err := testPool.Exec(ctx, "UPDATE orders SET created_at = now() - interval '10 minutes' WHERE id = $1", old.ID)
	require.NoError(t, err)

	recent := newPendingOrder("11900000002")
	require.NoError(t, repo.Create(ctx, recent))

	expired, err := repo.ListExpired(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}

func TestPostgresRepository_MessagesAndContactLookup(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	o := newPendingOrder("(11) 98765-4321")
	require.NoError(t, repo.Create(ctx, o))

	id, err := repo.FindLatestIDByContact(ctx, "87654321")
	require.NoError(t, err)
	assert.Equal(t, o.ID, id)

	_, err = repo.FindLatestIDByContact(ctx, "11112222")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	require.NoError(t, repo.CreateMessage(ctx, &order.Message{OrderID: o.ID, SenderRole: order.SenderCustomer, Body: "first"}))
	require.NoError(t, repo.CreateMessage(ctx, &order.Message{OrderID: o.ID, SenderRole: order.SenderAdmin, Body: "second"}))

	err = repo.CreateMessage(ctx, &order.Message{OrderID: uuid.Must(uuid.NewV4()), SenderRole: order.SenderAdmin, Body: "orphan"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	messages, err := repo.ListMessages(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)

	deleted, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	messages, err = repo.ListMessages(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestPostgresRepository_Stats(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	delivered := newPendingOrder("11900000001")
	require.NoError(t, repo.Create(ctx, delivered))
	_, err := repo.UpdateStatus(ctx, delivered.ID, order.StatusDelivered, []order.Status{order.StatusAwaitingPayment})
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, newPendingOrder("11900000002")))

	stats, err := repo.Stats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TodayCount)
	assert.Equal(t, 1, stats.AwaitingPayment)
	assert.True(t, stats.TodayRevenue.Equal(decimal.NewFromInt(100)), "got %s", stats.TodayRevenue)
}
