package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound             = errors.New("order not found")
	ErrDuplicatePaymentReference = errors.New("payment reference already used by another order")
)

// Repository is the durable order store. ApprovePayment and UpdateStatus are
// conditional writes: they return the row as written by that statement, or a
// nil order when the guard matched nothing.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method PaymentMethod) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target Status, from []Status) (*Order, error)
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
	ListExpired(ctx context.Context, cutoff time.Time) ([]Order, error)
	List(ctx context.Context, status Status) ([]Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error)
	FindLatestIDByContact(ctx context.Context, digits string) (uuid.UUID, error)
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, orderID uuid.UUID) ([]Message, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, customer_id, customer_name, customer_contact, delivery_address, items, total,
	status, payment_status, payment_method, payment_reference, payment_intent_id, created_at, updated_at`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                   Order
		status, paymentStatus               string
		address, method, reference, intent *string
		items                               []byte
	)
	err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&o.CustomerName,
		&o.CustomerContact,
		&address,
		&items,
		&o.Total,
		&status,
		&paymentStatus,
		&method,
		&reference,
		&intent,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.Items = items
	if address != nil {
		o.DeliveryAddress = *address
	}
	if method != nil {
		o.PaymentMethod = PaymentMethod(*method)
	}
	if reference != nil {
		o.PaymentReference = *reference
	}
	if intent != nil {
		o.PaymentIntentID = *intent
	}
	return &o, nil
}

func (r *postgresRepository) queryOrders(ctx context.Context, op, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		log.Error().Err(err).Msgf("repository: failed to query orders for %s", op)
		return nil, fmt.Errorf("repository: failed to query orders for %s: %w", op, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for %s: %w", op, err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for %s: %w", op, err)
	}
	return orders, nil
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	query := `
		INSERT INTO orders (id, customer_id, customer_name, customer_contact, delivery_address, items, total,
			status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		o.ID,
		o.CustomerID,
		o.CustomerName,
		o.CustomerContact,
		nullIfEmpty(o.DeliveryAddress),
		[]byte(o.Items),
		o.Total,
		string(o.Status),
		string(o.PaymentStatus),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("repository: failed to insert order")
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to get order")
		return nil, fmt.Errorf("repository: failed to get order %s: %w", id, err)
	}
	return o, nil
}

// ApprovePayment flips payment_status from pending to paid. An order still
// awaiting payment moves into the pending fulfillment queue; any later status
// is kept. Cancelled orders are never approved.
func (r *postgresRepository) ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method PaymentMethod) (*Order, error) {
	query := `
		UPDATE orders
		SET payment_status = 'paid',
			payment_reference = $2,
			payment_method = $3,
			status = CASE WHEN status = 'awaiting_payment' THEN 'pending' ELSE status END,
			updated_at = $4
		WHERE id = $1 AND payment_status = 'pending' AND status <> 'cancelled'
		RETURNING ` + orderColumns

	o, err := scanOrder(r.db.QueryRow(ctx, query, id, nullIfEmpty(reference), string(method), time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDuplicatePaymentReference
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to approve payment")
		return nil, fmt.Errorf("repository: failed to approve payment for order %s: %w", id, err)
	}
	return o, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, target Status, from []Status) (*Order, error) {
	if len(from) == 0 {
		return nil, nil
	}
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	query := `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + orderColumns

	o, err := scanOrder(r.db.QueryRow(ctx, query, id, string(target), time.Now().UTC(), sources))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Stringer("order_id", id).Str("target", target.String()).Msg("repository: failed to update order status")
		return nil, fmt.Errorf("repository: failed to update status for order %s: %w", id, err)
	}
	return o, nil
}

func (r *postgresRepository) AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	query := `UPDATE orders SET payment_intent_id = $2, updated_at = $3 WHERE id = $1`

	cmdTag, err := r.db.Exec(ctx, query, id, intentID, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to attach payment intent")
		return fmt.Errorf("repository: failed to attach payment intent to order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'awaiting_payment' AND payment_status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`
	return r.queryOrders(ctx, "expiry sweep", query, cutoff)
}

// List returns every order, newest first, optionally filtered by status.
func (r *postgresRepository) List(ctx context.Context, status Status) ([]Order, error) {
	if status == "" {
		return r.queryOrders(ctx, "listing", `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at DESC`
	return r.queryOrders(ctx, "listing", query, string(status))
}

func (r *postgresRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`
	return r.queryOrders(ctx, "customer history", query, customerID)
}

// FindLatestIDByContact matches the trailing digits of the stored contact,
// ignoring any formatting it was saved with.
func (r *postgresRepository) FindLatestIDByContact(ctx context.Context, digits string) (uuid.UUID, error) {
	query := `
		SELECT id FROM orders
		WHERE regexp_replace(customer_contact, '\D', '', 'g') LIKE '%' || $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, digits).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrOrderNotFound
		}
		return uuid.Nil, fmt.Errorf("repository: failed to find order by contact: %w", err)
	}
	return id, nil
}

func (r *postgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate message ID: %w", err)
		}
		msg.ID = id
	}
	msg.CreatedAt = time.Now().UTC()

	query := `INSERT INTO messages (id, order_id, sender_role, body, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, query, msg.ID, msg.OrderID, string(msg.SenderRole), msg.Body, msg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", msg.OrderID).Msg("repository: failed to insert message")
		return fmt.Errorf("repository: failed to insert message: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListMessages(ctx context.Context, orderID uuid.UUID) ([]Message, error) {
	query := `SELECT id, order_id, sender_role, body, created_at FROM messages WHERE order_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query messages for order %s: %w", orderID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.OrderID, &role, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan message: %w", err)
		}
		m.SenderRole = SenderRole(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating messages: %w", err)
	}
	return messages, nil
}

func (r *postgresRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1),
			COALESCE(SUM(total) FILTER (WHERE created_at >= $1 AND status = 'delivered'), 0),
			COUNT(*) FILTER (WHERE status = 'awaiting_payment')
		FROM orders
	`
	var (
		stats   Stats
		revenue decimal.Decimal
	)
	if err := r.db.QueryRow(ctx, query, since).Scan(&stats.TodayCount, &revenue, &stats.AwaitingPayment); err != nil {
		return nil, fmt.Errorf("repository: failed to compute stats: %w", err)
	}
	stats.TodayRevenue = revenue
	return &stats, nil
}

// DeleteAll removes every order together with its messages.
func (r *postgresRepository) DeleteAll(ctx context.Context) (deleted int64, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback reset")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit reset: %w", commitErr)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM messages`); err != nil {
		return 0, fmt.Errorf("repository: failed to delete messages: %w", err)
	}
	cmdTag, err := tx.Exec(ctx, `DELETE FROM orders`)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to delete orders: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
