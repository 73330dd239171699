package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/payment"
)

// Payments is the part of payment.Reconciler the HTTP layer drives.
type Payments interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID) (payment.Intent, error)
	Poll(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
	HandleCallback(ctx context.Context, payload []byte, header http.Header) error
	MarkCash(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
}

type CreateOrderRequest struct {
	CustomerName    string          `json:"customer_name" validate:"max=120"`
	CustomerContact string          `json:"customer_contact" validate:"required,min=8,max=40"`
	DeliveryAddress string          `json:"delivery_address" validate:"max=300"`
	Items           json.RawMessage `json:"items" validate:"required"`
	Total           decimal.Decimal `json:"total"`
}

type MessageRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

type PaymentStatusResponse struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Status        order.Status        `json:"status"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
	PaymentMethod order.PaymentMethod `json:"payment_method,omitempty"`
}

// OrderHandler serves the customer-facing order endpoints.
type OrderHandler struct {
	orders   order.Service
	payments Payments
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, payments Payments) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		payments: payments,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the handler. pollLimit guards the provider-backed
// payment poll.
func (h *OrderHandler) RegisterRoutes(router chi.Router, pollLimit func(http.Handler) http.Handler) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListMyOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.With(pollLimit).Get("/orders/{id}/payment", h.handlePollPayment)
	router.Post("/orders/{id}/payment-intent", h.handleCreateIntent)
	router.Get("/orders/{id}/messages", h.handleListMessages)
	router.Post("/orders/{id}/messages", h.handlePostMessage)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	in := order.CreateInput{
		CustomerName:    req.CustomerName,
		CustomerContact: req.CustomerContact,
		DeliveryAddress: req.DeliveryAddress,
		Items:           req.Items,
		Total:           req.Total,
	}
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		if id, ok := claims.CustomerID(); ok {
			in.CustomerID = uuid.NullUUID{UUID: id, Valid: true}
		}
	}

	created, err := h.orders.CreateOrder(r.Context(), in)
	if err != nil {
		respondWithServiceError(w, err, "create order")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	customerID, ok := claims.CustomerID()
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "token subject is not a customer id")
		return
	}

	orders, err := h.orders.ListCustomerOrders(r.Context(), customerID)
	if err != nil {
		respondWithServiceError(w, err, "list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	found, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "get order")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handlePollPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	current, err := h.payments.Poll(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "check payment")
		return
	}
	respondWithJSON(w, http.StatusOK, PaymentStatusResponse{
		OrderID:       current.ID,
		Status:        current.Status,
		PaymentStatus: current.PaymentStatus,
		PaymentMethod: current.PaymentMethod,
	})
}

func (h *OrderHandler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	intent, err := h.payments.CreateIntent(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "create payment intent")
		return
	}
	respondWithJSON(w, http.StatusCreated, intent)
}

func (h *OrderHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	listMessages(w, r, h.orders)
}

func (h *OrderHandler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	postMessage(w, r, h.orders, h.validate, order.SenderCustomer)
}

func listMessages(w http.ResponseWriter, r *http.Request, orders order.Service) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	messages, err := orders.ListMessages(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "list messages")
		return
	}
	if messages == nil {
		messages = []order.Message{}
	}
	respondWithJSON(w, http.StatusOK, messages)
}

func postMessage(w http.ResponseWriter, r *http.Request, orders order.Service, validate *validator.Validate, role order.SenderRole) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if !decodeAndValidate(w, r, validate, &req) {
		return
	}

	msg, err := orders.PostMessage(r.Context(), id, role, req.Body)
	if err != nil {
		respondWithServiceError(w, err, "post message")
		return
	}
	respondWithJSON(w, http.StatusCreated, msg)
}
