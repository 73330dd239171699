// Package payment talks to the payment provider and turns its signals into
// order payment approvals.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

var (
	ErrGateway              = errors.New("payment gateway request failed")
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
	ErrInvalidCallback      = errors.New("payment callback could not be verified")
)

// Status is the provider-neutral payment state.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusDeclined Status = "declined"
)

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       Status `json:"status"`
}

// Payment is the provider's view of an intent. OrderID is uuid.Nil when the
// provider did not echo the order reference back.
type Payment struct {
	IntentID string
	OrderID  uuid.UUID
	Status   Status
	Method   order.PaymentMethod
}

// Callback is a decoded provider notification. Known is false for event
// types that carry nothing to reconcile; those are acknowledged and ignored.
type Callback struct {
	Known     bool
	EventType string
	Payment   Payment
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (Intent, error)
	GetStatus(ctx context.Context, intentID string) (Payment, error)
	DecodeCallback(ctx context.Context, payload []byte, header http.Header) (Callback, error)
}
