package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/order-lifecycle/internal/eventbus"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error {
	return p.err
}

func newTestRouter(db Pinger) http.Handler {
	hub := eventbus.NewHub()
	return NewRouter(Handlers{
		Orders:      handler.NewOrderHandler(nil, nil),
		Admin:       handler.NewAdminHandler(nil, nil, nil, nil),
		Webhooks:    handler.NewWebhookHandler(nil, nil, ""),
		Streams:     handler.NewStreamHandler(hub, nil, nil),
		Auth:        handler.NewAuthenticator("secret"),
		PollLimiter: handler.NewRateLimiter(1, 1),
		DB:          db,
	})
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name         string
		db           Pinger
		expectedCode int
		expectedBody string
	}{
		{name: "healthy", db: fakePinger{}, expectedCode: http.StatusOK, expectedBody: "OK"},
		{name: "no_database", db: nil, expectedCode: http.StatusOK, expectedBody: "OK"},
		{name: "database_down", db: fakePinger{err: errors.New("connection refused")}, expectedCode: http.StatusServiceUnavailable, expectedBody: "database unavailable\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestRouter(tt.db).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, tt.expectedBody, rr.Body.String())
		})
	}
}

func TestRouter_AdminRoutesAreProtected(t *testing.T) {
	router := newTestRouter(nil)

	for _, path := range []string{"/api/admin/orders", "/api/admin/stats", "/api/admin/settings", "/api/admin/events"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// pollOnly answers status polls; every other payment call is unused here.
type pollOnly struct {
	handler.Payments
}

func (pollOnly) Poll(_ context.Context, id uuid.UUID) (*order.Order, error) {
	return &order.Order{ID: id, Status: order.StatusAwaitingPayment, PaymentStatus: order.PaymentPending}, nil
}

func TestRouter_PollLimitKeysOnClientAddress(t *testing.T) {
	tests := []struct {
		name         string
		trustProxy   bool
		expectedCode int
	}{
		{name: "forwarded_header_ignored", trustProxy: false, expectedCode: http.StatusTooManyRequests},
		{name: "forwarded_header_trusted", trustProxy: true, expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := eventbus.NewHub()
			t.Cleanup(hub.Close)
			router := NewRouter(Handlers{
				Orders:            handler.NewOrderHandler(nil, pollOnly{}),
				Admin:             handler.NewAdminHandler(nil, nil, nil, nil),
				Webhooks:          handler.NewWebhookHandler(nil, nil, ""),
				Streams:           handler.NewStreamHandler(hub, nil, nil),
				Auth:              handler.NewAuthenticator("secret"),
				PollLimiter:       handler.NewRateLimiter(0.001, 1),
				TrustProxyHeaders: tt.trustProxy,
			})

			path := "/api/orders/" + uuid.Must(uuid.NewV4()).String() + "/payment"
			var last int
			for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				req.RemoteAddr = "198.51.100.7:40000"
				req.Header.Set("X-Forwarded-For", forwarded)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)
				last = rr.Code
			}
			assert.Equal(t, tt.expectedCode, last)
		})
	}
}
