package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/mocks"
	"storefront-orders/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	router   *gin.Engine
	orders   *mocks.MockOrderRepository
	products *mocks.MockProductRepository
	users    *mocks.MockUserRepository
	notifier *mocks.MockNotifier
	svc      *services.OrderService
}

func newTestEnv(idem IdempotencyStore) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		orders:   new(mocks.MockOrderRepository),
		products: new(mocks.MockProductRepository),
		users:    new(mocks.MockUserRepository),
		notifier: new(mocks.MockNotifier),
	}
	tx := new(mocks.MockTransactor)
	tx.On("WithinTransaction", mock.Anything).Return(nil).Maybe()
	pub := new(mocks.MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	env.users.On("FindByID", mock.Anything, "user-1").Return(&domain.User{ID: "user-1", Email: "asha@example.com"}, nil).Maybe()
	env.users.On("FindByID", mock.Anything, "user-2").Return(&domain.User{ID: "user-2"}, nil).Maybe()
	env.users.On("FindByID", mock.Anything, "admin-1").Return(&domain.User{ID: "admin-1", UserType: domain.UserTypeAdmin}, nil).Maybe()
	env.users.On("FindByID", mock.Anything, "ghost").Return(nil, nil).Maybe()
	env.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	env.svc = services.NewOrderService(env.orders, env.products, env.users, tx, env.notifier, pub)

	env.router = gin.New()
	NewHandler(env.svc, nil, time.Second, idem).RegisterRoutes(env.router, RequireAuth(testSecret, env.users))
	return env
}

func bearer(t *testing.T, userID string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{ID: userID}).SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (env *testEnv) do(t *testing.T, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	env.svc.Wait()
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func createBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{{"productId": "p1", "quantity": 2}},
		"shippingInfo": map[string]any{
			"name": "Asha", "address": "12 Market Rd", "country": "India", "phone": "9999999999",
		},
		"paymentMethod": "card",
	}
}

func storedOrder(status domain.OrderStatus) *domain.Order {
	return &domain.Order{
		ID:            "order-1",
		OwnerID:       "user-1",
		Items:         []domain.OrderItem{{ProductID: "p1", Quantity: 2, UnitCost: decimal.NewFromInt(100)}},
		TotalAmount:   decimal.NewFromInt(200),
		PaymentMethod: domain.PaymentCard,
		PaymentStatus: domain.PaymentCompleted,
		OrderStatus:   status,
		OrderDate:     time.Now().UTC(),
	}
}

func TestAuth_Rejections(t *testing.T) {
	env := newTestEnv(nil)

	w := env.do(t, http.MethodGet, "/orders/current_user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Kind)

	w = env.do(t, http.MethodGet, "/orders/current_user", "", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/orders/current_user", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "user not found", decodeError(t, w).Error)
}

func TestHandler_CreateOrder(t *testing.T) {
	env := newTestEnv(nil)
	env.products.On("FindByID", mock.Anything, "p1").
		Return(&domain.Product{ID: "p1", ProductName: "Clay Pot", Cost: decimal.NewFromInt(100), Quantity: 5}, nil)
	env.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
	env.products.On("AdjustQuantities", mock.Anything, []domain.StockAdjustment{{ProductID: "p1", Delta: -2}}).Return(nil)

	w := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "user-1", resp.Order.OwnerID)
	assert.Equal(t, domain.PaymentCompleted, resp.Order.PaymentStatus)
	assert.True(t, decimal.NewFromInt(200).Equal(resp.Order.TotalAmount))
	env.products.AssertExpectations(t)
}

func TestHandler_CreateOrder_BadRequest(t *testing.T) {
	env := newTestEnv(nil)

	body := createBody()
	body["items"] = []map[string]any{}
	w := env.do(t, http.MethodPost, "/orders/create", "user-1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decodeError(t, w).Kind)

	body = createBody()
	body["paymentMethod"] = "paypal"
	w = env.do(t, http.MethodPost, "/orders/create", "user-1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandler_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		user     string
		body     any
		order    *domain.Order
		wantCode int
		wantKind string
	}{
		{"cancel delivered", http.MethodPut, "/orders/cancel/order-1", "user-1", nil, storedOrder(domain.StatusDelivered), http.StatusConflict, "invalid_transition"},
		{"cancel someone else's", http.MethodPut, "/orders/cancel/order-1", "user-2", nil, storedOrder(domain.StatusProcessing), http.StatusForbidden, "forbidden"},
		{"view someone else's", http.MethodGet, "/orders/order-1", "user-2", nil, storedOrder(domain.StatusProcessing), http.StatusForbidden, "forbidden"},
		{"view missing", http.MethodGet, "/orders/order-1", "user-1", nil, nil, http.StatusNotFound, "not_found"},
		{"status as customer", http.MethodPut, "/orders/admin/status/order-1", "user-1", map[string]string{"orderStatus": "shipped"}, nil, http.StatusForbidden, "forbidden"},
		{"unknown status", http.MethodPut, "/orders/admin/status/order-1", "admin-1", map[string]string{"orderStatus": "lost"}, nil, http.StatusBadRequest, "validation"},
		{"all orders as customer", http.MethodGet, "/orders/admin/all", "user-1", nil, nil, http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(nil)
			if tt.order != nil {
				env.orders.On("FindByID", mock.Anything, "order-1").Return(tt.order, nil)
			} else {
				env.orders.On("FindByID", mock.Anything, "order-1").Return(nil, nil).Maybe()
			}

			w := env.do(t, tt.method, tt.path, tt.user, tt.body)

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantKind, decodeError(t, w).Kind)
		})
	}
}

func TestHandler_AdminStatusUpdate(t *testing.T) {
	env := newTestEnv(nil)
	order := storedOrder(domain.StatusShipped)
	env.orders.On("FindByID", mock.Anything, "order-1").Return(order, nil)
	env.orders.On("UpdateStatus", mock.Anything, "order-1", domain.StatusShipped, domain.StatusDelivered, mock.AnythingOfType("*time.Time")).Return(nil)

	w := env.do(t, http.MethodPut, "/orders/admin/status/order-1", "admin-1", map[string]string{"orderStatus": "delivered"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusDelivered, resp.Order.OrderStatus)
	assert.NotNil(t, resp.Order.DeliveryDate)
}

func TestHandler_ListMyOrders(t *testing.T) {
	env := newTestEnv(nil)
	env.orders.On("FindByOwner", mock.Anything, "user-1").Return([]domain.Order{*storedOrder(domain.StatusProcessing)}, nil)

	w := env.do(t, http.MethodGet, "/orders/current_user", "user-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)
}

// memIdempotency fails calls made on a done context, as the redis client does.
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
	down bool
}

func (m *memIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", false, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	}
	if v, ok := m.keys[key]; ok {
		return v, false, nil
	}
	m.keys[key] = ""
	return "", true, nil
}

func (m *memIdempotency) Complete(ctx context.Context, key, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memIdempotency) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func TestHandler_CreateOrder_IdempotentReplay(t *testing.T) {
	idem := &memIdempotency{keys: map[string]string{}}
	env := newTestEnv(idem)
	env.products.On("FindByID", mock.Anything, "p1").
		Return(&domain.Product{ID: "p1", ProductName: "Clay Pot", Cost: decimal.NewFromInt(100), Quantity: 5}, nil)

	var created *domain.Order
	env.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once().Run(func(args mock.Arguments) {
		created = args.Get(1).(*domain.Order)
	})
	env.products.On("AdjustQuantities", mock.Anything, mock.Anything).Return(nil).Once()

	first := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody(), "Idempotency-Key", "checkout-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.NotNil(t, created)

	env.orders.On("FindByID", mock.Anything, created.ID).Return(created, nil)
	second := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody(), "Idempotency-Key", "checkout-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.Order.ID)
	env.orders.AssertNumberOfCalls(t, "Create", 1)
}

func TestHandler_CreateOrder_IdempotencyInFlight(t *testing.T) {
	idem := &memIdempotency{keys: map[string]string{"idempotency:order:user-1:checkout-2": ""}}
	env := newTestEnv(idem)

	w := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody(), "Idempotency-Key", "checkout-2")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decodeError(t, w).Kind)
}

func TestHandler_CreateOrder_ClientGoneReleasesKey(t *testing.T) {
	idem := &memIdempotency{keys: map[string]string{}}
	env := newTestEnv(idem)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.products.On("FindByID", mock.Anything, "p1").Return(nil, context.Canceled).Once().Run(func(mock.Arguments) {
		cancel()
	})

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(createBody()))
	req := httptest.NewRequest(http.MethodPost, "/orders/create", &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "user-1"))
	req.Header.Set("Idempotency-Key", "checkout-3")
	first := httptest.NewRecorder()
	env.router.ServeHTTP(first, req)
	env.svc.Wait()

	require.Equal(t, http.StatusInternalServerError, first.Code, first.Body.String())
	assert.False(t, idem.has("idempotency:order:user-1:checkout-3"), "key must not stay pending")

	env.products.On("FindByID", mock.Anything, "p1").
		Return(&domain.Product{ID: "p1", ProductName: "Clay Pot", Cost: decimal.NewFromInt(100), Quantity: 5}, nil)
	env.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once()
	env.products.On("AdjustQuantities", mock.Anything, mock.Anything).Return(nil).Once()

	retry := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody(), "Idempotency-Key", "checkout-3")
	assert.Equal(t, http.StatusCreated, retry.Code, retry.Body.String())
}

func TestHandler_CreateOrder_IdempotencyStoreDown(t *testing.T) {
	idem := &memIdempotency{keys: map[string]string{}, down: true}
	env := newTestEnv(idem)
	env.products.On("FindByID", mock.Anything, "p1").
		Return(&domain.Product{ID: "p1", ProductName: "Clay Pot", Cost: decimal.NewFromInt(100), Quantity: 5}, nil)
	env.orders.On("Create", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once()
	env.products.On("AdjustQuantities", mock.Anything, mock.Anything).Return(nil).Once()

	w := env.do(t, http.MethodPost, "/orders/create", "user-1", createBody(), "Idempotency-Key", "checkout-4")

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.False(t, idem.has("idempotency:order:user-1:checkout-4"))
}
