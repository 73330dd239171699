package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/payment"
)

const inboundTokenHeader = "X-Inbound-Token"

type InboundReceiver interface {
	ReceiveInbound(ctx context.Context, from, body string) (*order.Message, error)
}

type InboundRequest struct {
	From string `json:"from" validate:"required,max=64"`
	Body string `json:"body" validate:"required,max=2000"`
}

// WebhookHandler receives calls from the payment provider and the messaging
// gateway.
type WebhookHandler struct {
	payments     Payments
	inbound      InboundReceiver
	inboundToken string
	validate     *validator.Validate
}

func NewWebhookHandler(payments Payments, inbound InboundReceiver, inboundToken string) *WebhookHandler {
	return &WebhookHandler{
		payments:     payments,
		inbound:      inbound,
		inboundToken: inboundToken,
		validate:     newValidator(),
	}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handlePaymentWebhook)
	router.Post("/notifications/inbound", h.handleInbound)
}

// handlePaymentWebhook acknowledges every callback it could process, including
// ones it chose to ignore, so the provider stops retrying them.
func (h *WebhookHandler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("handler: failed to read payment callback")
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.payments.HandleCallback(r.Context(), payload, r.Header); err != nil {
		if errors.Is(err, payment.ErrInvalidCallback) {
			log.Warn().Err(err).Msg("handler: payment callback rejected")
			respondWithError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		log.Error().Err(err).Msg("handler: payment callback processing failed")
		respondWithError(w, http.StatusInternalServerError, "failed to process callback")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	if h.inboundToken == "" {
		respondWithError(w, http.StatusForbidden, "inbound messages are disabled")
		return
	}
	given := r.Header.Get(inboundTokenHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.inboundToken)) != 1 {
		log.Warn().Str("remote_ip", clientIP(r)).Msg("handler: inbound message with bad token")
		respondWithError(w, http.StatusForbidden, "invalid inbound token")
		return
	}

	var req InboundRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	msg, err := h.inbound.ReceiveInbound(r.Context(), req.From, req.Body)
	if err != nil {
		respondWithServiceError(w, err, "store inbound message")
		return
	}
	respondWithJSON(w, http.StatusCreated, msg)
}
