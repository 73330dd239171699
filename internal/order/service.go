package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/settings"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrStoreClosed       = errors.New("store is closed")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

const (
	TopicOrderCreated = "order_created"
	TopicOrderUpdated = "order_updated"
	TopicNewMessage   = "new_message"
	TopicOrdersReset  = "orders_reset"

	RoomOrders = "orders"
	RoomChat   = "chat"
	RoomSystem = "system"

	defaultCustomerName = "Guest"
	contactMatchDigits  = 8
)

// OrderRoom is the room a single order's observers join.
func OrderRoom(id uuid.UUID) string {
	return "order:" + id.String()
}

type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Publisher fans events out to connected observers. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, rooms ...string)
}

// Notifier sends a text to a customer. Failures never reach the caller.
type Notifier interface {
	Send(ctx context.Context, address, text string)
}

type Service interface {
	CreateOrder(ctx context.Context, in CreateInput) (*Order, error)
	ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method PaymentMethod) (*Order, error)
	Transition(ctx context.Context, id uuid.UUID, target Status, opts ...TransitionOption) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, status Status) ([]Order, error)
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]Order, error)
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
	PostMessage(ctx context.Context, orderID uuid.UUID, role SenderRole, body string) (*Message, error)
	ListMessages(ctx context.Context, orderID uuid.UUID) ([]Message, error)
	ReceiveInbound(ctx context.Context, from, body string) (*Message, error)
	Stats(ctx context.Context) (*Stats, error)
	ResetAll(ctx context.Context) (int64, error)
}

type Option func(*service)

func WithMeter(m metric.Meter) Option {
	return func(s *service) {
		s.metrics = newMetrics(m)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	repo      Repository
	settings  SettingsReader
	publisher Publisher
	notifier  Notifier
	policy    *bluemonday.Policy
	metrics   *metrics
	now       func() time.Time
}

func NewService(repo Repository, settings SettingsReader, publisher Publisher, notifier Notifier, opts ...Option) Service {
	s := &service{
		repo:      repo,
		settings:  settings,
		publisher: publisher,
		notifier:  notifier,
		policy:    bluemonday.StrictPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, in CreateInput) (*Order, error) {
	contact := strings.TrimSpace(in.CustomerContact)
	if contact == "" {
		return nil, fmt.Errorf("%w: customer contact is required", ErrValidation)
	}
	if in.Total.IsNegative() {
		return nil, fmt.Errorf("%w: total must be non-negative, got %s", ErrValidation, in.Total.StringFixed(2))
	}
	items := in.Items
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	if !json.Valid(items) {
		return nil, fmt.Errorf("%w: items must be valid JSON", ErrValidation)
	}

	status, err := s.settings.Get(ctx, settings.KeyStoreStatus)
	if err != nil {
		return nil, fmt.Errorf("service: failed to read store status: %w", err)
	}
	if settings.IsClosed(status) {
		log.Info().Str("contact", contact).Msg("service: order refused, store is closed")
		return nil, ErrStoreClosed
	}

	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		name = defaultCustomerName
	}

	o := &Order{
		CustomerID:      in.CustomerID,
		CustomerName:    name,
		CustomerContact: contact,
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		Items:           items,
		Total:           in.Total.Round(2),
		Status:          StatusAwaitingPayment,
		PaymentStatus:   PaymentPending,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	log.Info().Stringer("order_id", o.ID).Str("total", o.Total.StringFixed(2)).Msg("service: order created")

	s.publisher.Publish(ctx, TopicOrderCreated, o, RoomOrders, OrderRoom(o.ID))
	s.notifier.Send(ctx, o.CustomerContact, receivedMessage(o))

	return o, nil
}

// ApprovePayment marks the order paid. Only the call that actually flips the
// payment status publishes and notifies; every other call returns the current
// order unchanged.
func (s *service) ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method PaymentMethod) (*Order, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}

	updated, err := s.repo.ApprovePayment(ctx, id, strings.TrimSpace(reference), method)
	if err != nil {
		s.metrics.approval(ctx, "error")
		return nil, err
	}

	if updated == nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.metrics.approval(ctx, "noop")
		if current.Status == StatusCancelled && !current.IsPaid() {
			log.Warn().Stringer("order_id", id).Str("reference", reference).
				Msg("service: payment reported for cancelled order, manual refund may be needed")
			return current, nil
		}
		log.Debug().
			Stringer("order_id", id).
			Str("payment_status", current.PaymentStatus.String()).
			Str("status", current.Status.String()).
			Msg("service: payment approval ignored")
		return current, nil
	}

	// The write is committed; the caller going away must not drop its effects.
	ctx = context.WithoutCancel(ctx)

	s.metrics.approval(ctx, "applied")
	log.Info().
		Stringer("order_id", id).
		Str("method", string(method)).
		Str("reference", reference).
		Msg("service: payment approved")

	s.publisher.Publish(ctx, TopicOrderUpdated, updated, RoomOrders, OrderRoom(id))
	s.notifier.Send(ctx, updated.CustomerContact, paymentConfirmedMessage(updated))

	return updated, nil
}

func (s *service) Transition(ctx context.Context, id uuid.UUID, target Status, opts ...TransitionOption) (*Order, error) {
	if !IsOperatorTarget(target) {
		return nil, fmt.Errorf("%w: %q is not a valid target status", ErrValidation, target)
	}

	var cfg transitionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, target, cfg.sourcesFor(target))
	if err != nil {
		return nil, err
	}

	if updated == nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case current.Status.IsTerminal():
			log.Warn().Stringer("order_id", id).Str("from", current.Status.String()).Str("to", target.String()).
				Msg("service: transition out of terminal status refused")
			return nil, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, current.Status)
		case current.Status == target:
			return current, nil
		default:
			return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, current.Status, target)
		}
	}

	ctx = context.WithoutCancel(ctx)

	s.metrics.transition(ctx, target)
	log.Info().Stringer("order_id", id).Str("status", target.String()).Msg("service: order status updated")

	s.publisher.Publish(ctx, TopicOrderUpdated, updated, RoomOrders, OrderRoom(id))
	if text, ok := statusMessage(updated, target); ok {
		s.notifier.Send(ctx, updated.CustomerContact, text)
	}

	return updated, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) ListOrders(ctx context.Context, status Status) ([]Order, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.repo.List(ctx, status)
}

func (s *service) ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *service) AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	if intentID == "" {
		return fmt.Errorf("%w: payment intent id is required", ErrValidation)
	}
	return s.repo.AttachPaymentIntent(ctx, id, intentID)
}

// PostMessage appends a sanitised chat message. Admin messages are relayed to
// the customer.
func (s *service) PostMessage(ctx context.Context, orderID uuid.UUID, role SenderRole, body string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown sender role %q", ErrValidation, role)
	}
	clean := strings.TrimSpace(s.policy.Sanitize(body))
	if clean == "" {
		return nil, fmt.Errorf("%w: message body is required", ErrValidation)
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	msg := &Message{OrderID: orderID, SenderRole: role, Body: clean}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, TopicNewMessage, msg, RoomChat, OrderRoom(orderID))
	if role == SenderAdmin {
		s.notifier.Send(ctx, o.CustomerContact, clean)
	}
	return msg, nil
}

func (s *service) ListMessages(ctx context.Context, orderID uuid.UUID) ([]Message, error) {
	if _, err := s.repo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, orderID)
}

// ReceiveInbound files a message sent by a customer through the notification
// channel under their most recent order.
func (s *service) ReceiveInbound(ctx context.Context, from, body string) (*Message, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, from)
	if digits == "" {
		return nil, fmt.Errorf("%w: sender address has no digits", ErrValidation)
	}
	if len(digits) > contactMatchDigits {
		digits = digits[len(digits)-contactMatchDigits:]
	}

	orderID, err := s.repo.FindLatestIDByContact(ctx, digits)
	if err != nil {
		return nil, err
	}
	return s.PostMessage(ctx, orderID, SenderCustomer, body)
}

// Stats covers orders created since local midnight.
func (s *service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now()
	y, m, d := now.Date()
	return s.repo.Stats(ctx, time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
}

func (s *service) ResetAll(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	log.Warn().Int64("deleted", deleted).Msg("service: all orders removed")
	s.publisher.Publish(ctx, TopicOrdersReset, map[string]int64{"deleted": deleted}, RoomOrders)
	return deleted, nil
}
