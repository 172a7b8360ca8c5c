package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

type apiEnv struct {
	store   *memory.Store
	handler http.Handler
}

func newAPI(t *testing.T, mutate func(*Config)) *apiEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Products.Upsert(ctx, domain.Product{ID: "p1", Name: "Mug", Price: decimal.RequireFromString("19.99"), Stock: 5}))
	require.NoError(t, repos.Products.Upsert(ctx, domain.Product{ID: "p2", Name: "Tea", Price: decimal.RequireFromString("5.00"), Stock: 3}))

	provider, err := ParseStaticTokens(aliceToken + "=alice:alice@example.com," + bobToken + "=bob:bob@example.com")
	require.NoError(t, err)

	logger := log.NewEntry(log.New())
	cfg := Config{
		Checkout:    checkout.NewOrchestrator(store),
		Orders:      orders.NewQueryService(repos.Orders, repos.Timeline),
		Status:      orders.NewStatusManager(store),
		Carts:       cart.NewService(store, repos.Carts, cache.Noop{}, logger),
		Identity:    provider,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, logger),
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &apiEnv{store: store, handler: NewRouter(cfg)}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func (e *apiEnv) fillCart(t *testing.T, token string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/cart", token, map[string]interface{}{"productId": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/cart", token, map[string]interface{}{"productId": "p2", "quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

var checkoutBody = map[string]string{"shippingAddress": "1 Main St", "paymentMethod": "card"}

func TestAuthRequired(t *testing.T) {
	api := newAPI(t, nil)

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic " + aliceToken},
		{name: "unknown token", header: "Bearer nope"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			api.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestCheckoutFlow(t *testing.T) {
	api := newAPI(t, nil)
	api.fillCart(t, aliceToken)

	rec := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"subtotal":54.98`)
	assert.Contains(t, rec.Body.String(), `"tax":5.50`)
	assert.Contains(t, rec.Body.String(), `"total":70.48`)

	body := decode(t, rec)
	assert.Equal(t, "Order placed successfully", body["message"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["userId"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, false, data["partiallyFulfilled"])

	rec = api.do(t, http.MethodGet, "/cart", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cartData := decode(t, rec)["data"].(map[string]interface{})
	assert.Empty(t, cartData["items"])

	product, err := api.store.Repositories().Products.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, product.Stock)
}

func TestCheckoutValidation(t *testing.T) {
	api := newAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	api.fillCart(t, aliceToken)

	rec = api.do(t, http.MethodPost, "/orders", aliceToken, map[string]string{"shippingAddress": "1 Main St"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Shipping address and payment method are required", decode(t, rec)["message"])

	rec = api.do(t, http.MethodPost, "/orders", aliceToken, "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode(t, rec)["message"])
}

func TestCheckoutIdempotencyReplay(t *testing.T) {
	api := newAPI(t, nil)
	api.fillCart(t, aliceToken)

	first := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	reused := api.do(t, http.MethodPost, "/orders", aliceToken,
		map[string]string{"shippingAddress": "2 Side St", "paymentMethod": "card"},
		IdempotencyKeyHeader, "key-1")
	assert.Equal(t, http.StatusConflict, reused.Code)

	_, total, err := api.store.Repositories().Orders.List(context.Background(), domain.OrderListQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCheckoutRateLimited(t *testing.T) {
	api := newAPI(t, func(cfg *Config) {
		cfg.CheckoutRateLimit = 0.001
		cfg.CheckoutRateBurst = 1
	})

	first := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := api.do(t, http.MethodPost, "/orders", bobToken, checkoutBody)
	assert.Equal(t, http.StatusBadRequest, other.Code)
}

func TestGetOrderOwnership(t *testing.T) {
	api := newAPI(t, nil)
	api.fillCart(t, aliceToken)

	rec := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode(t, rec)["data"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodGet, "/orders/"+orderID, aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders/"+orderID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", decode(t, rec)["message"])

	rec = api.do(t, http.MethodGet, "/orders/missing", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found", decode(t, rec)["message"])

	rec = api.do(t, http.MethodGet, "/orders/"+orderID+"/timeline", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["data"].([]interface{})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].(map[string]interface{})["type"])

	rec = api.do(t, http.MethodGet, "/orders/"+orderID+"/timeline", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListAndStats(t *testing.T) {
	api := newAPI(t, nil)

	for i := 0; i < 2; i++ {
		rec := api.do(t, http.MethodPost, "/cart", aliceToken, map[string]interface{}{"productId": "p2"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := api.do(t, http.MethodGet, "/orders?limit=1&page=2", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 2, body["totalCount"])
	assert.EqualValues(t, 2, body["totalPages"])
	assert.EqualValues(t, 2, body["currentPage"])

	rec = api.do(t, http.MethodGet, "/orders?status=shipped", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["totalCount"])

	rec = api.do(t, http.MethodGet, "/orders?status=bogus", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders?page=abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders/stats", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalSpent":31.00`)
	assert.Contains(t, rec.Body.String(), `"averageOrderValue":15.50`)
	stats := decode(t, rec)["data"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["totalOrders"])
	assert.EqualValues(t, 2, stats["statusCounts"].(map[string]interface{})["pending"])

	rec = api.do(t, http.MethodGet, "/orders/stats", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalSpent":0.00`)
}

func TestUpdateOrderStatus(t *testing.T) {
	api := newAPI(t, nil)
	api.fillCart(t, aliceToken)

	rec := api.do(t, http.MethodPost, "/orders", aliceToken, checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode(t, rec)["data"].(map[string]interface{})["id"].(string)

	rec = api.do(t, http.MethodPatch, "/orders/"+orderID+"/status", aliceToken, map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid status", decode(t, rec)["message"])

	rec = api.do(t, http.MethodPatch, "/orders/"+orderID+"/status", aliceToken, map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Order status updated", body["message"])
	assert.Equal(t, "shipped", body["data"].(map[string]interface{})["status"])

	rec = api.do(t, http.MethodPatch, "/orders/missing/status", aliceToken, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartEndpoints(t *testing.T) {
	api := newAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/cart", aliceToken, map[string]interface{}{"productId": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Item added to cart", decode(t, rec)["message"])
	assert.Contains(t, rec.Body.String(), `"total":39.98`)

	rec = api.do(t, http.MethodPost, "/cart", aliceToken, map[string]interface{}{"productId": "p1", "quantity": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Insufficient stock", decode(t, rec)["message"])

	rec = api.do(t, http.MethodPost, "/cart", aliceToken, map[string]interface{}{"productId": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPut, "/cart/p1", aliceToken, map[string]int{"quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":19.99`)

	rec = api.do(t, http.MethodPut, "/cart/p1", aliceToken, map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodDelete, "/cart/p2", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/cart/p1", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/cart", aliceToken, map[string]interface{}{"productId": "p2"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodDelete, "/cart", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["data"].(map[string]interface{})["items"])
}

func TestParseStaticTokens(t *testing.T) {
	provider, err := ParseStaticTokens(" t1=u1:a@example.com , t2=u2 ,")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.Len())

	identity, err := provider.Authenticate(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u2"}, identity)

	_, err = provider.Authenticate(context.Background(), "t3")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	for _, raw := range []string{"no-separator", "=u1:x", "t1=:x"} {
		_, err := ParseStaticTokens(raw)
		assert.Error(t, err, raw)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrEmptyCart:                                          http.StatusBadRequest,
		domain.NewError(domain.ErrOrderNotFound, "Order not found"):  http.StatusNotFound,
		domain.ErrInvalidTransition:                                  http.StatusConflict,
		domain.ErrIdempotencyHashMismatch:                            http.StatusConflict,
		idempotency.ErrInProgress:                                    http.StatusConflict,
		domain.NewError(domain.ErrUnauthenticated, "Invalid token"):  http.StatusUnauthorized,
		context.DeadlineExceeded:                                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}

	status, body := errorEnvelope(context.DeadlineExceeded, "Error creating order")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Error creating order", body.Message)
	assert.Equal(t, internalErrorMessage, body.Error)
}
