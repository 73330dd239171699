package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/notify"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

type SettingsService interface {
	All(ctx context.Context) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]string) error
}

// ChannelControl manages the customer messaging session.
type ChannelControl interface {
	Logout(ctx context.Context) (notify.Status, error)
}

type TransitionRequest struct {
	Status order.Status `json:"status" validate:"required"`
}

type ResetResponse struct {
	Deleted int64 `json:"deleted"`
}

// AdminHandler serves the store dashboard. Every route requires the admin role.
type AdminHandler struct {
	orders   order.Service
	payments Payments
	settings SettingsService
	channel  ChannelControl
	validate *validator.Validate
}

func NewAdminHandler(orders order.Service, payments Payments, settings SettingsService, channel ChannelControl) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		payments: payments,
		settings: settings,
		channel:  channel,
		validate: newValidator(),
	}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Delete("/orders", h.handleResetOrders)
	router.Put("/orders/{id}", h.handleTransition)
	router.Post("/orders/{id}/cash", h.handleMarkCash)
	router.Get("/orders/{id}/messages", h.handleListMessages)
	router.Post("/orders/{id}/messages", h.handlePostMessage)
	router.Get("/stats", h.handleStats)
	router.Get("/settings", h.handleGetSettings)
	router.Post("/settings", h.handleUpdateSettings)
	router.Post("/channel/logout", h.handleChannelLogout)
}

func (h *AdminHandler) handleChannelLogout(w http.ResponseWriter, r *http.Request) {
	status, err := h.channel.Logout(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "failed to log out of the messaging channel")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := order.Status(r.URL.Query().Get("status"))

	orders, err := h.orders.ListOrders(r.Context(), status)
	if err != nil {
		respondWithServiceError(w, err, "list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *AdminHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.orders.Transition(r.Context(), id, req.Status)
	if err != nil {
		respondWithServiceError(w, err, "update order status")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) handleMarkCash(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	updated, err := h.payments.MarkCash(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "mark order paid")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	listMessages(w, r, h.orders)
}

func (h *AdminHandler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	postMessage(w, r, h.orders, h.validate, order.SenderAdmin)
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Stats(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "load stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := h.settings.All(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "load settings")
		return
	}
	respondWithJSON(w, http.StatusOK, values)
}

func (h *AdminHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&values); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode settings")
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if len(values) == 0 {
		respondWithError(w, http.StatusBadRequest, "no settings given")
		return
	}

	if err := h.settings.SetMany(r.Context(), values); err != nil {
		respondWithServiceError(w, err, "update settings")
		return
	}

	h.handleGetSettings(w, r)
}

func (h *AdminHandler) handleResetOrders(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.orders.ResetAll(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "reset orders")
		return
	}
	respondWithJSON(w, http.StatusOK, ResetResponse{Deleted: deleted})
}
