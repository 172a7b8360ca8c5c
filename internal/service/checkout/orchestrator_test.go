package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	shopper  = domain.Identity{UserID: "u1", Email: "shopper@example.com"}
	validReq = Request{ShippingAddress: "1 Main St", PaymentMethod: "card"}
)

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type spyCache struct {
	deleted []string
	err     error
}

func (c *spyCache) Get(context.Context, string) (domain.Cart, error) {
	return domain.Cart{}, errors.New("not used")
}

func (c *spyCache) Generation(context.Context, string) (uint64, error) { return 0, nil }
func (c *spyCache) Fill(context.Context, domain.Cart, uint64) error { return nil }

func (c *spyCache) Delete(_ context.Context, userID string) error {
	c.deleted = append(c.deleted, userID)
	return c.err
}

func setup(t *testing.T, stock map[string]int, cart []domain.CartItem) (*memory.Store, *Orchestrator, *spyCache) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()

	for id, qty := range stock {
		require.NoError(t, repos.Products.Upsert(ctx, domain.Product{ID: id, Name: id, Price: money("1.00"), Stock: qty}))
	}
	if len(cart) > 0 {
		_, err := repos.Carts.SetItems(ctx, shopper.UserID, cart)
		require.NoError(t, err)
	}

	c := &spyCache{}
	o := NewOrchestrator(store,
		WithCartCache(c),
		WithMetrics(metrics.NewCheckoutMetrics(prometheus.NewRegistry())),
		WithClock(func() time.Time { return fixedNow }),
	)
	return store, o, c
}

func standardCart() []domain.CartItem {
	return []domain.CartItem{
		{ProductID: "p1", Name: "Mug", Price: money("19.99"), Quantity: 2},
		{ProductID: "p2", Name: "Tea", Price: money("5.00"), Quantity: 3},
	}
}

func TestCheckout_PlacesOrder(t *testing.T) {
	store, o, c := setup(t, map[string]int{"p1": 5, "p2": 3}, standardCart())
	ctx := context.Background()

	order, err := o.Checkout(ctx, shopper, validReq)
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "54.98", order.Subtotal.StringFixed(2))
	assert.Equal(t, "5.50", order.Tax.StringFixed(2))
	assert.Equal(t, "10.00", order.Shipping.StringFixed(2))
	assert.Equal(t, "70.48", order.Total.StringFixed(2))
	assert.Equal(t, shopper.Email, order.UserEmail)
	assert.Equal(t, domain.DefaultCustomerName, order.UserName)
	assert.False(t, order.PartiallyFulfilled)
	assert.True(t, order.CreatedAt.Equal(fixedNow))
	assert.Empty(t, order.ValidateInvariants())

	repos := store.Repositories()

	cart, err := repos.Carts.Get(ctx, shopper.UserID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	p1, err := repos.Products.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p1.Stock)
	p2, err := repos.Products.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, p2.Stock)

	stored, err := repos.Orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	events, err := repos.Timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending, err := repos.Outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventOrderConfirmationRequested, pending[0].EventType)
	assert.Equal(t, domain.EventPurchaseHistoryAppend, pending[1].EventType)

	var history domain.PurchaseHistoryAppend
	require.NoError(t, json.Unmarshal(pending[1].Payload, &history))
	assert.Equal(t, order.ID, history.OrderID)
	assert.Equal(t, shopper.UserID, history.UserID)

	assert.Equal(t, []string{shopper.UserID}, c.deleted)
}

func TestCheckout_UsesProfile(t *testing.T) {
	store, o, _ := setup(t, map[string]int{"p1": 5, "p2": 5}, standardCart())
	ctx := context.Background()

	_, err := store.Repositories().Users.Save(ctx, domain.UserProfile{ID: shopper.UserID, Email: "profile@example.com", Name: "Ada"})
	require.NoError(t, err)

	order, err := o.Checkout(ctx, shopper, validReq)
	require.NoError(t, err)
	assert.Equal(t, "profile@example.com", order.UserEmail)
	assert.Equal(t, "Ada", order.UserName)
}

func TestCheckout_Validation(t *testing.T) {
	_, o, _ := setup(t, nil, standardCart())

	for _, req := range []Request{
		{ShippingAddress: "", PaymentMethod: "card"},
		{ShippingAddress: "1 Main St", PaymentMethod: "   "},
	} {
		_, err := o.Checkout(context.Background(), shopper, req)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, "Shipping address and payment method are required", err.Error())
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	store, o, c := setup(t, map[string]int{"p1": 5}, nil)
	ctx := context.Background()

	_, err := o.Checkout(ctx, shopper, validReq)
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, "Cart is empty", err.Error())

	orders, total, err := store.Repositories().Orders.List(ctx, domain.OrderListQuery{UserID: shopper.UserID})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)

	p1, err := store.Repositories().Products.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Stock)
	assert.Empty(t, c.deleted)
}

func TestCheckout_PartialFulfillment(t *testing.T) {
	cart := []domain.CartItem{
		{ProductID: "p1", Name: "Mug", Price: money("19.99"), Quantity: 2},
		{ProductID: "p2", Name: "Tea", Price: money("5.00"), Quantity: 3},
		{ProductID: "gone", Name: "Removed", Price: money("1.00"), Quantity: 1},
	}
	store, o, _ := setup(t, map[string]int{"p1": 5, "p2": 1}, cart)
	ctx := context.Background()

	order, err := o.Checkout(ctx, shopper, validReq)
	require.NoError(t, err)

	assert.True(t, order.PartiallyFulfilled)
	require.Len(t, order.Items, 3)
	assert.Equal(t, domain.StockReserved, order.Items[0].StockStatus)
	assert.Equal(t, domain.StockBackordered, order.Items[1].StockStatus)
	assert.Equal(t, domain.StockSkipped, order.Items[2].StockStatus)

	p2, err := store.Repositories().Products.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Stock, "stock never goes negative")
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox unavailable")
}

type failingUoW struct {
	store *memory.Store
}

func (u failingUoW) WithinTx(ctx context.Context, fn func(context.Context, domain.Repositories) error) error {
	return u.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		repos.Outbox = failingOutbox{repos.Outbox}
		return fn(ctx, repos)
	})
}

func TestCheckout_FailureRollsBack(t *testing.T) {
	store, _, _ := setup(t, map[string]int{"p1": 5, "p2": 5}, standardCart())
	ctx := context.Background()
	c := &spyCache{}
	o := NewOrchestrator(failingUoW{store: store}, WithCartCache(c))

	_, err := o.Checkout(ctx, shopper, validReq)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrEmptyCart)

	repos := store.Repositories()
	cart, err := repos.Carts.Get(ctx, shopper.UserID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	p1, err := repos.Products.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Stock)

	_, total, err := repos.Orders.List(ctx, domain.OrderListQuery{UserID: shopper.UserID})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, c.deleted)
}

func TestCheckout_CacheFailureDoesNotFail(t *testing.T) {
	_, o, c := setup(t, map[string]int{"p1": 5, "p2": 5}, standardCart())
	c.err = errors.New("redis down")

	_, err := o.Checkout(context.Background(), shopper, validReq)
	require.NoError(t, err)
}

func TestCheckout_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.Repositories()
	require.NoError(t, repos.Products.Upsert(ctx, domain.Product{ID: "p1", Name: "Mug", Price: money("2.00"), Stock: 3}))

	const shoppers = 10
	for i := 0; i < shoppers; i++ {
		_, err := repos.Carts.SetItems(ctx, userID(i), []domain.CartItem{{ProductID: "p1", Name: "Mug", Price: money("2.00"), Quantity: 1}})
		require.NoError(t, err)
	}

	o := NewOrchestrator(store)
	results := make(chan domain.Order, shoppers)
	errs := make(chan error, shoppers)
	for i := 0; i < shoppers; i++ {
		go func(i int) {
			order, err := o.Checkout(ctx, domain.Identity{UserID: userID(i)}, validReq)
			if err != nil {
				errs <- err
				return
			}
			results <- order
		}(i)
	}

	reserved := 0
	for i := 0; i < shoppers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("unexpected checkout error: %v", err)
		case order := <-results:
			if order.Items[0].StockStatus == domain.StockReserved {
				reserved++
			}
		}
	}
	assert.Equal(t, 3, reserved)

	p1, err := repos.Products.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Stock)
}

func userID(i int) string {
	return "user-" + string(rune('a'+i))
}
