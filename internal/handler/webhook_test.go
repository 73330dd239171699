package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/payment"
)

func TestWebhookHandler_PaymentCallback(t *testing.T) {
	tests := []struct {
		name         string
		callbackErr  error
		expectedCode int
	}{
		{name: "processed", expectedCode: http.StatusOK},
		{name: "bad_signature", callbackErr: fmt.Errorf("%w: no signatures found", payment.ErrInvalidCallback), expectedCode: http.StatusBadRequest},
		{name: "processing_failed", callbackErr: fmt.Errorf("repository: %w", assert.AnError), expectedCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			payload := `{"id":"evt_1","type":"payment_intent.succeeded"}`
			s.payments.On("HandleCallback", mock.Anything, []byte(payload), mock.MatchedBy(func(h http.Header) bool {
				return h.Get("Stripe-Signature") == "t=1,v1=abc"
			})).Return(tt.callbackErr).Once()

			req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(payload))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedCode, rr.Code)
			s.assertExpectations(t)
		})
	}
}

func TestWebhookHandler_Inbound(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name         string
		token        string
		body         string
		serviceErr   error
		expectCall   bool
		expectedCode int
	}{
		{name: "missing_token", body: `{"from":"5511987654321","body":"hi"}`, expectedCode: http.StatusForbidden},
		{name: "wrong_token", token: "guess", body: `{"from":"5511987654321","body":"hi"}`, expectedCode: http.StatusForbidden},
		{name: "missing_body", token: "inbound-token", body: `{"from":"5511987654321"}`, expectedCode: http.StatusBadRequest},
		{name: "stored", token: "inbound-token", body: `{"from":"5511987654321","body":"hi"}`, expectCall: true, expectedCode: http.StatusCreated},
		{name: "no_order_for_sender", token: "inbound-token", body: `{"from":"5511987654321","body":"hi"}`,
			serviceErr: order.ErrOrderNotFound, expectCall: true, expectedCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.expectCall {
				if tt.serviceErr != nil {
					s.orders.On("ReceiveInbound", mock.Anything, "5511987654321", "hi").Return(nil, tt.serviceErr).Once()
				} else {
					s.orders.On("ReceiveInbound", mock.Anything, "5511987654321", "hi").Return(&order.Message{
						ID: uuid.Must(uuid.NewV4()), OrderID: orderID, SenderRole: order.SenderCustomer, Body: "hi",
					}, nil).Once()
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/api/notifications/inbound", strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("X-Inbound-Token", tt.token)
			}
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, req)

			require.Equal(t, tt.expectedCode, rr.Code)
			s.assertExpectations(t)
		})
	}
}
