package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/storefront/pkg/cart"
	"github.com/example/storefront/pkg/checkout"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOrders struct {
	bySession map[string]*models.Order
	byID      map[string]*models.Order
}

func newMockOrders() *mockOrders {
	return &mockOrders{
		bySession: make(map[string]*models.Order),
		byID:      make(map[string]*models.Order),
	}
}

func (m *mockOrders) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if order, ok := m.byID[id]; ok {
		return order, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockOrders) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if order, ok := m.bySession[sessionID]; ok {
		return order, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockOrders) List(ctx context.Context, filters repository.ListFilters) ([]models.Order, error) {
	var orders []models.Order
	for _, order := range m.byID {
		orders = append(orders, *order)
	}
	return orders, nil
}

func (m *mockOrders) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	order, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	order.OrderStatus = status
	return order, nil
}

type mockPayments struct {
	sessions map[string]*payment.CheckoutSession
}

func (m *mockPayments) GetCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	if session, ok := m.sessions[sessionID]; ok {
		return session, nil
	}
	return nil, &payment.APIError{StatusCode: http.StatusNotFound, Message: "No such checkout session"}
}

type mockCheckout struct {
	session *checkout.Session
	err     error
}

func (m *mockCheckout) InitiateSession(ctx context.Context, draft checkout.DraftOrder) (*checkout.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

type mockProcessor struct {
	result  webhook.Result
	err     error
	payload []byte
	header  string
}

func (m *mockProcessor) Process(ctx context.Context, payload []byte, sigHeader string) (webhook.Result, error) {
	m.payload = payload
	m.header = sigHeader
	return m.result, m.err
}

type mockAudit struct {
	logs []*repository.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *repository.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error) {
	return m.logs, nil
}

type memoryKV struct {
	data map[string]string
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	value, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("key not found")
	}
	return value, nil
}

func (m *memoryKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memoryKV) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

type fixture struct {
	server    *Server
	orders    *mockOrders
	payments  *mockPayments
	checkout  *mockCheckout
	processor *mockProcessor
	audit     *mockAudit
}

func newFixture() *fixture {
	orders := newMockOrders()
	payments := &mockPayments{sessions: make(map[string]*payment.CheckoutSession)}
	co := &mockCheckout{}
	processor := &mockProcessor{}
	audit := &mockAudit{}
	cartStore := cart.NewStore(&memoryKV{data: make(map[string]string)}, zap.NewNop())

	srv := New(&config.Config{}, zap.NewNop(), co, processor, orders, payments, audit, cartStore)
	srv.SetupRoutes()

	return &fixture{
		server:    srv,
		orders:    orders,
		payments:  payments,
		checkout:  co,
		processor: processor,
		audit:     audit,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture()
	f.checkout.session = &checkout.Session{
		SessionID:   "cs_1",
		RedirectURL: "https://pay.example.com/cs_1",
		OrderNumber: "ORD-1",
	}

	w := f.do(t, http.MethodPost, "/checkout-sessions", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cs_1", body["session_id"])
	assert.Equal(t, "ORD-1", body["order_number"])
}

func TestCreateCheckoutSessionValidationFailure(t *testing.T) {
	f := newFixture()
	f.checkout.err = checkout.ValidationErrors{
		{Field: "customer_email", Message: "email is required"},
	}

	w := f.do(t, http.MethodPost, "/checkout-sessions", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation failed", body["error"])
	assert.NotEmpty(t, body["fields"])
}

func TestCreateCheckoutSessionProviderFailure(t *testing.T) {
	f := newFixture()
	f.checkout.err = &payment.APIError{StatusCode: 500, Message: "provider down"}

	w := f.do(t, http.MethodPost, "/checkout-sessions", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "provider down", decode(t, w)["error"])
}

func TestWebhookResultMapping(t *testing.T) {
	cases := []struct {
		name     string
		result   webhook.Result
		err      error
		wantCode int
	}{
		{"acked", webhook.ResultAcked, nil, http.StatusOK},
		{"bad request", webhook.ResultBadRequest, payment.ErrInvalidSignature, http.StatusBadRequest},
		{"retryable", webhook.ResultRetryable, fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.processor.result = tc.result
			f.processor.err = tc.err

			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader([]byte(`{"type":"x"}`)))
			req.Header.Set("Stripe-Signature", "t=1,v1=00")
			w := httptest.NewRecorder()
			f.server.Router().ServeHTTP(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, []byte(`{"type":"x"}`), f.processor.payload, "the raw body reaches the processor untouched")
			assert.Equal(t, "t=1,v1=00", f.processor.header)
		})
	}
}

func TestVerifyPaymentShapes(t *testing.T) {
	f := newFixture()
	f.payments.sessions["cs_paid"] = &payment.CheckoutSession{ID: "cs_paid", PaymentStatus: "paid"}
	f.payments.sessions["cs_unpaid"] = &payment.CheckoutSession{ID: "cs_unpaid", PaymentStatus: "unpaid"}
	f.orders.bySession["cs_paid"] = &models.Order{ID: "o1", OrderNumber: "ORD-1"}

	t.Run("missing session_id", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/payment-verification", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("confirmed", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/payment-verification?session_id=cs_paid", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.NotNil(t, body["order"])
	})

	t.Run("paid but webhook not landed", func(t *testing.T) {
		f.payments.sessions["cs_lag"] = &payment.CheckoutSession{ID: "cs_lag", PaymentStatus: "paid"}
		w := f.do(t, http.MethodGet, "/payment-verification?session_id=cs_lag", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, true, body["processing"])
	})

	t.Run("not paid", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/payment-verification?session_id=cs_unpaid", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "unpaid", body["payment_status"])
	})

	t.Run("unknown session", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/payment-verification?session_id=cs_missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetOrder(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &models.Order{ID: "o1", OrderNumber: "ORD-1"}

	w := f.do(t, http.MethodGet, "/orders/o1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ORD-1", decode(t, w)["order_number"])

	w = f.do(t, http.MethodGet, "/orders/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &models.Order{ID: "o1", OrderStatus: models.OrderProcessing}

	w := f.do(t, http.MethodPatch, "/orders/o1", map[string]string{"order_status": "shipped"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shipped", decode(t, w)["order_status"])

	w = f.do(t, http.MethodPatch, "/orders/o1", map[string]string{"order_status": "teleported"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPatch, "/orders/o1", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPatch, "/orders/missing", map[string]string{"order_status": "shipped"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrderStatusWritesAuditTrail(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &models.Order{ID: "o1", OrderStatus: models.OrderProcessing}

	w := f.do(t, http.MethodPatch, "/orders/o1", map[string]string{"order_status": "shipped"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, f.audit.logs, 1)
	entry := f.audit.logs[0]
	assert.Equal(t, repository.AuditStatusChanged, entry.Action)
	assert.Equal(t, "o1", entry.EntityID)
	assert.Equal(t, "processing", entry.Data["from"])
	assert.Equal(t, "shipped", entry.Data["to"])

	// Rejected updates leave no trail.
	w = f.do(t, http.MethodPatch, "/orders/o1", map[string]string{"order_status": "teleported"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.audit.logs, 1)
}

func TestCartRequiresSessionHeader(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/cart", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartLifecycle(t *testing.T) {
	f := newFixture()
	headers := map[string]string{"X-Cart-Session": "sess-1"}

	w := f.do(t, http.MethodGet, "/cart", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Empty(t, body["items"])

	w = f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{
		"name": "Hoodie", "price": 30.0,
	}, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	itemID, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, itemID)

	w = f.do(t, http.MethodGet, "/cart", nil, headers)
	body = decode(t, w)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, 30.0, body["total"])

	w = f.do(t, http.MethodDelete, "/cart/items/"+itemID, nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/cart", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/cart", nil, headers)
	assert.Empty(t, decode(t, w)["items"])
}

func TestAddCartItemRejectsEmptyName(t *testing.T) {
	f := newFixture()
	headers := map[string]string{"X-Cart-Session": "sess-1"}

	w := f.do(t, http.MethodPost, "/cart/items", map[string]interface{}{"price": 10.0}, headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
