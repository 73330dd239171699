package order

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPending         Status = "pending"
	StatusPreparing       Status = "preparing"
	StatusOutForDelivery  Status = "out_for_delivery"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusPending, StatusPreparing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type PaymentMethod string

const (
	MethodOnline PaymentMethod = "online"
	MethodPix    PaymentMethod = "pix"
	MethodCard   PaymentMethod = "card"
	MethodCash   PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodOnline, MethodPix, MethodCard, MethodCash:
		return true
	}
	return false
}

type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAdmin    SenderRole = "admin"
	SenderSystem   SenderRole = "system"
)

func (r SenderRole) Valid() bool {
	return r == SenderCustomer || r == SenderAdmin || r == SenderSystem
}

type Order struct {
	ID               uuid.UUID       `json:"id"`
	CustomerID       uuid.NullUUID   `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	CustomerContact  string          `json:"customer_contact"`
	DeliveryAddress  string          `json:"delivery_address,omitempty"`
	Items            json.RawMessage `json:"items"`
	Total            decimal.Decimal `json:"total"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentMethod    PaymentMethod   `json:"payment_method,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsPaid reports whether the payment confirmation has already been applied.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

type CreateInput struct {
	CustomerID      uuid.NullUUID
	CustomerName    string
	CustomerContact string
	DeliveryAddress string
	Items           json.RawMessage
	Total           decimal.Decimal
}

type Message struct {
	ID         uuid.UUID  `json:"id"`
	OrderID    uuid.UUID  `json:"order_id"`
	SenderRole SenderRole `json:"sender_role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Stats struct {
	TodayCount      int             `json:"today_count"`
	TodayRevenue    decimal.Decimal `json:"today_revenue"`
	AwaitingPayment int             `json:"awaiting_payment"`
}
