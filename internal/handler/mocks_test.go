package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/order-lifecycle/internal/eventbus"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
	"github.com/vasiliy-maslov/order-lifecycle/internal/notify"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/payment"
	"github.com/vasiliy-maslov/order-lifecycle/internal/transport"
)

const testSecret = "test-secret"

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, in order.CreateInput) (*order.Order, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ApprovePayment(ctx context.Context, id uuid.UUID, reference string, method order.PaymentMethod) (*order.Order, error) {
	args := m.Called(ctx, id, reference, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Transition(ctx context.Context, id uuid.UUID, target order.Status, opts ...order.TransitionOption) (*order.Order, error) {
	args := m.Called(ctx, id, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, status order.Status) ([]order.Order, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) ListCustomerOrders(ctx context.Context, customerID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) AttachPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	return m.Called(ctx, id, intentID).Error(0)
}

func (m *MockOrderService) PostMessage(ctx context.Context, orderID uuid.UUID, role order.SenderRole, body string) (*order.Message, error) {
	args := m.Called(ctx, orderID, role, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Message), args.Error(1)
}

func (m *MockOrderService) ListMessages(ctx context.Context, orderID uuid.UUID) ([]order.Message, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Message), args.Error(1)
}

func (m *MockOrderService) ReceiveInbound(ctx context.Context, from, body string) (*order.Message, error) {
	args := m.Called(ctx, from, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Message), args.Error(1)
}

func (m *MockOrderService) Stats(ctx context.Context) (*order.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Stats), args.Error(1)
}

func (m *MockOrderService) ResetAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) CreateIntent(ctx context.Context, orderID uuid.UUID) (payment.Intent, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(payment.Intent), args.Error(1)
}

func (m *MockPayments) Poll(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockPayments) HandleCallback(ctx context.Context, payload []byte, header http.Header) error {
	return m.Called(ctx, payload, header).Error(0)
}

func (m *MockPayments) MarkCash(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockSettings struct {
	mock.Mock
}

func (m *MockSettings) All(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockSettings) SetMany(ctx context.Context, values map[string]string) error {
	return m.Called(ctx, values).Error(0)
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Status() notify.Status {
	return m.Called().Get(0).(notify.Status)
}

func (m *MockChannel) Logout(ctx context.Context) (notify.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(notify.Status), args.Error(1)
}

type testServer struct {
	orders   *MockOrderService
	payments *MockPayments
	settings *MockSettings
	channel  *MockChannel
	hub      *eventbus.Hub
	auth     *handler.Authenticator
	router   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		orders:   new(MockOrderService),
		payments: new(MockPayments),
		settings: new(MockSettings),
		channel:  new(MockChannel),
		hub:      eventbus.NewHub(),
		auth:     handler.NewAuthenticator(testSecret),
	}
	t.Cleanup(s.hub.Close)

	s.router = transport.NewRouter(transport.Handlers{
		Orders:      handler.NewOrderHandler(s.orders, s.payments),
		Admin:       handler.NewAdminHandler(s.orders, s.payments, s.settings, s.channel),
		Webhooks:    handler.NewWebhookHandler(s.payments, s.orders, "inbound-token"),
		Streams:     handler.NewStreamHandler(s.hub, s.orders, s.channel),
		Auth:        s.auth,
		PollLimiter: handler.NewRateLimiter(100, 100),
	})
	return s
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	token, err := s.auth.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) assertExpectations(t *testing.T) {
	t.Helper()
	s.orders.AssertExpectations(t)
	s.payments.AssertExpectations(t)
	s.settings.AssertExpectations(t)
	s.channel.AssertExpectations(t)
}
