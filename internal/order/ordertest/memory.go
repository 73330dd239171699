// Package ordertest provides in-memory collaborators for exercising the order
// lifecycle without a database.
package ordertest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

// MemoryRepository applies the same conditional-update rules as the
// PostgreSQL repository under a single mutex.
type MemoryRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]order.Order
	messages map[uuid.UUID][]order.Message

	// UpdateErr, when set for an order, is returned by UpdateStatus.
	UpdateErr map[uuid.UUID]error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[uuid.UUID]order.Order),
		messages:  make(map[uuid.UUID][]order.Message),
		UpdateErr: make(map[uuid.UUID]error),
	}
}

// Put stores o as-is, overwriting any order with the same ID.
func (r *MemoryRepository) Put(o order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
}

func (r *MemoryRepository) Create(_ context.Context, o *order.Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		o.ID = id
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = *o
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) ApprovePayment(_ context.Context, id uuid.UUID, reference string, method order.PaymentMethod) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.PaymentStatus != order.PaymentPending || o.Status == order.StatusCancelled {
		return nil, nil
	}
	if reference != "" {
		for otherID, other := range r.orders {
			if otherID != id && other.PaymentReference == reference {
				return nil, order.ErrDuplicatePaymentReference
			}
		}
	}

	o.PaymentStatus = order.PaymentPaid
	o.PaymentReference = reference
	o.PaymentMethod = method
	if o.Status == order.StatusAwaitingPayment {
		o.Status = order.StatusPending
	}
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	return &o, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, target order.Status, from []order.Status) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.UpdateErr[id]; err != nil {
		return nil, err
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = target
			o.UpdatedAt = time.Now().UTC()
			r.orders[id] = o
			return &o, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) AttachPaymentIntent(_ context.Context, id uuid.UUID, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.PaymentIntentID = intentID
	r.orders[id] = o
	return nil
}

func (r *MemoryRepository) ListExpired(_ context.Context, cutoff time.Time) ([]order.Order, error) {
	return r.filter(func(o order.Order) bool {
		return o.Status == order.StatusAwaitingPayment && o.PaymentStatus == order.PaymentPending && o.CreatedAt.Before(cutoff)
	}, true), nil
}

func (r *MemoryRepository) List(_ context.Context, status order.Status) ([]order.Order, error) {
	return r.filter(func(o order.Order) bool {
		return status == "" || o.Status == status
	}, false), nil
}

func (r *MemoryRepository) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]order.Order, error) {
	return r.filter(func(o order.Order) bool {
		return o.CustomerID.Valid && o.CustomerID.UUID == customerID
	}, false), nil
}

func (r *MemoryRepository) FindLatestIDByContact(_ context.Context, digits string) (uuid.UUID, error) {
	matches := r.filter(func(o order.Order) bool {
		return strings.HasSuffix(onlyDigits(o.CustomerContact), digits)
	}, false)
	if len(matches) == 0 {
		return uuid.Nil, order.ErrOrderNotFound
	}
	return matches[0].ID, nil
}

func (r *MemoryRepository) CreateMessage(_ context.Context, msg *order.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[msg.OrderID]; !ok {
		return order.ErrOrderNotFound
	}
	if msg.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		msg.ID = id
	}
	msg.CreatedAt = time.Now().UTC()
	r.messages[msg.OrderID] = append(r.messages[msg.OrderID], *msg)
	return nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, orderID uuid.UUID) ([]order.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]order.Message, len(r.messages[orderID]))
	copy(out, r.messages[orderID])
	return out, nil
}

func (r *MemoryRepository) Stats(_ context.Context, since time.Time) (*order.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &order.Stats{TodayRevenue: decimal.Zero}
	for _, o := range r.orders {
		if !o.CreatedAt.Before(since) {
			stats.TodayCount++
			if o.Status == order.StatusDelivered {
				stats.TodayRevenue = stats.TodayRevenue.Add(o.Total)
			}
		}
		if o.Status == order.StatusAwaitingPayment {
			stats.AwaitingPayment++
		}
	}
	return stats, nil
}

func (r *MemoryRepository) DeleteAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.orders))
	r.orders = make(map[uuid.UUID]order.Order)
	r.messages = make(map[uuid.UUID][]order.Message)
	return n, nil
}

// filter returns matching orders sorted by creation time, oldest first when
// ascending is set and newest first otherwise.
func (r *MemoryRepository) filter(keep func(order.Order) bool, ascending bool) []order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]order.Order, 0)
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
