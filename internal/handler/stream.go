package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/starfederation/datastar-go/datastar"
	"github.com/vasiliy-maslov/order-lifecycle/internal/eventbus"
	"github.com/vasiliy-maslov/order-lifecycle/internal/notify"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

const (
	streamBuffer = 32

	TopicChannelStatus = "channel_status"
)

type Subscriptions interface {
	Subscribe(buffer int) *eventbus.Subscriber
}

type ChannelStatus interface {
	Status() notify.Status
}

type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

// StreamHandler pushes hub events to browsers as Datastar signal patches.
type StreamHandler struct {
	hub     Subscriptions
	orders  OrderReader
	channel ChannelStatus
}

func NewStreamHandler(hub Subscriptions, orders OrderReader, channel ChannelStatus) *StreamHandler {
	return &StreamHandler{hub: hub, orders: orders, channel: channel}
}

// RegisterOrderRoutes mounts the customer stream.
func (h *StreamHandler) RegisterOrderRoutes(router chi.Router) {
	router.Get("/orders/{id}/events", h.handleOrderEvents)
}

// RegisterAdminRoutes mounts the dashboard stream.
func (h *StreamHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/events", h.handleAdminEvents)
}

func (h *StreamHandler) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	current, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "open order stream")
		return
	}

	sub := h.hub.Subscribe(streamBuffer)
	defer sub.Close()
	sub.Join(order.OrderRoom(id))

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(map[string]any{"order": current}); err != nil {
		return
	}
	h.pump(r.Context(), sse, sub, "order:"+id.String())
}

func (h *StreamHandler) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	sub := h.hub.Subscribe(streamBuffer)
	defer sub.Close()
	sub.Join(order.RoomOrders, order.RoomChat, order.RoomSystem)

	sse := datastar.NewSSE(w, r)
	signals := map[string]any{}
	addChannelSignals(signals, h.channel.Status())
	if err := sse.MarshalAndPatchSignals(signals); err != nil {
		return
	}
	h.pump(r.Context(), sse, sub, "admin")
}

func (h *StreamHandler) pump(ctx context.Context, sse *datastar.ServerSentEventGenerator, sub *eventbus.Subscriber, stream string) {
	log.Debug().Str("stream", stream).Msg("stream: client connected")
	defer func() {
		log.Debug().Str("stream", stream).Int64("dropped", sub.Dropped()).Msg("stream: client disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			signals := map[string]any{"lastEvent": ev}
			if ev.Topic == TopicChannelStatus {
				if st, ok := channelStatusPayload(ev.Payload); ok {
					addChannelSignals(signals, st)
				}
			}
			if err := sse.MarshalAndPatchSignals(signals); err != nil {
				log.Debug().Err(err).Str("stream", stream).Msg("stream: write failed")
				return
			}
		}
	}
}

func addChannelSignals(signals map[string]any, st notify.Status) {
	signals["channelStatus"] = st.State
	signals["channelQR"] = st.QRCode
}

// channelStatusPayload accepts local events and ones relayed from other
// instances, which arrive as raw JSON.
func channelStatusPayload(payload any) (notify.Status, bool) {
	switch p := payload.(type) {
	case notify.Status:
		return p, true
	case json.RawMessage:
		var st notify.Status
		if err := json.Unmarshal(p, &st); err != nil || st.State == "" {
			return notify.Status{}, false
		}
		return st, true
	default:
		return notify.Status{}, false
	}
}
