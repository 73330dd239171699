package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

type Source string

const (
	SourceCallback Source = "callback"
	SourcePoll     Source = "poll"
	SourceCash     Source = "cash"
)

// Signal is one report that an order's payment changed state.
type Signal struct {
	OrderID   uuid.UUID
	Reference string
	Method    order.PaymentMethod
	Status    Status
	Source    Source
}

type OrderService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error)
	ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method order.PaymentMethod) (*order.Order, error)
	AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error
}

// Reconciler feeds payment signals from provider callbacks, client polls and
// cash marking into the order service. Approval idempotence is left to
// OrderService.ApprovePayment.
type Reconciler struct {
	orders  OrderService
	gateway Gateway
}

func NewReconciler(orders OrderService, gateway Gateway) *Reconciler {
	return &Reconciler{orders: orders, gateway: gateway}
}

// CreateIntent opens a provider payment for an order that can still be paid.
func (r *Reconciler) CreateIntent(ctx context.Context, orderID uuid.UUID) (Intent, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Intent{}, err
	}
	if o.IsPaid() {
		return Intent{}, fmt.Errorf("%w: order is already paid", order.ErrInvalidTransition)
	}
	if o.Status.IsTerminal() {
		return Intent{}, fmt.Errorf("%w: order is already %s", order.ErrInvalidTransition, o.Status)
	}

	intent, err := r.gateway.CreateIntent(ctx, o.Total, o.ID.String())
	if err != nil {
		return Intent{}, err
	}
	if err := r.orders.AttachPaymentIntent(ctx, o.ID, intent.ID); err != nil {
		return Intent{}, fmt.Errorf("failed to record payment intent: %w", err)
	}
	return intent, nil
}

// Poll asks the provider for the order's current payment state. Gateway
// failures are returned to the caller and leave the order untouched.
func (r *Reconciler) Poll(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.IsPaid() || o.PaymentIntentID == "" || o.Status.IsTerminal() {
		return o, nil
	}

	p, err := r.gateway.GetStatus(ctx, o.PaymentIntentID)
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("payment: status poll failed")
		return nil, err
	}
	return r.apply(ctx, Signal{
		OrderID:   o.ID,
		Reference: p.IntentID,
		Method:    p.Method,
		Status:    p.Status,
		Source:    SourcePoll,
	})
}

// HandleCallback processes a provider notification. Unknown event types,
// events for unknown orders and references already used by another order are
// acknowledged without action, since redelivery cannot change the outcome.
func (r *Reconciler) HandleCallback(ctx context.Context, payload []byte, header http.Header) error {
	cb, err := r.gateway.DecodeCallback(ctx, payload, header)
	if err != nil {
		return err
	}
	if !cb.Known {
		log.Debug().Str("event_type", cb.EventType).Msg("payment: callback acknowledged without action")
		return nil
	}
	if cb.Payment.OrderID == uuid.Nil {
		log.Warn().Str("intent_id", cb.Payment.IntentID).Msg("payment: callback without order reference")
		return nil
	}

	_, err = r.apply(ctx, Signal{
		OrderID:   cb.Payment.OrderID,
		Reference: cb.Payment.IntentID,
		Method:    cb.Payment.Method,
		Status:    cb.Payment.Status,
		Source:    SourceCallback,
	})
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		log.Warn().Stringer("order_id", cb.Payment.OrderID).Msg("payment: callback for unknown order")
		return nil
	case errors.Is(err, order.ErrDuplicatePaymentReference):
		log.Warn().Stringer("order_id", cb.Payment.OrderID).Str("intent_id", cb.Payment.IntentID).
			Msg("payment: callback reference already used by another order")
		return nil
	}
	return err
}

// MarkCash confirms an order paid in cash on delivery or at the counter.
func (r *Reconciler) MarkCash(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	return r.apply(ctx, Signal{
		OrderID: orderID,
		Method:  order.MethodCash,
		Status:  StatusApproved,
		Source:  SourceCash,
	})
}

// apply is the single consumer of payment signals. Only approvals change the
// order; declined and pending reports leave it awaiting payment.
func (r *Reconciler) apply(ctx context.Context, sig Signal) (*order.Order, error) {
	if sig.Status != StatusApproved {
		log.Info().
			Stringer("order_id", sig.OrderID).
			Str("source", string(sig.Source)).
			Str("payment_status", string(sig.Status)).
			Msg("payment: non-approved signal ignored")
		return r.orders.GetOrder(ctx, sig.OrderID)
	}

	o, err := r.orders.ApprovePayment(ctx, sig.OrderID, sig.Reference, sig.Method)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", sig.OrderID).Str("source", string(sig.Source)).Msg("payment: approval failed")
		return nil, err
	}
	return o, nil
}
