package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store, *miniredis.Miniredis) {
	t.Helper()

	store := memory.NewStore()
	require.NoError(t, store.Repositories().Products.Upsert(context.Background(), domain.Product{
		ID: "p1", Name: "Mug", Price: decimal.RequireFromString("19.99"), Image: "mug.png", Stock: 5,
	}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewService(store, store.Repositories().Carts, cache.NewRedisCache(client, time.Minute), nil)
	return svc, store, mr
}

func TestUpsertItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cart, err := svc.UpsertItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "Mug", cart.Items[0].Name)
	assert.Equal(t, "mug.png", cart.Items[0].Image)
	assert.True(t, cart.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 2, cart.Items[0].Quantity)

	cart, err = svc.UpsertItem(ctx, "u1", "p1", 3)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestUpsertItem_Errors(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpsertItem(ctx, "u1", "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.UpsertItem(ctx, "u1", "p1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.UpsertItem(ctx, "u1", "missing", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "Product not found", err.Error())

	_, err = svc.UpsertItem(ctx, "u1", "p1", 6)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, "Insufficient stock", err.Error())

	_, err = svc.UpsertItem(ctx, "u1", "p1", 4)
	require.NoError(t, err)
	_, err = svc.UpsertItem(ctx, "u1", "p1", 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock, "cart total counts against stock")
}

func TestUpdateQuantityAndRemove(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpsertItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	cart, err := svc.UpdateQuantity(ctx, "u1", "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, "u1", "p1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.UpdateQuantity(ctx, "u1", "other", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "Item not found in cart", err.Error())

	cart, err = svc.RemoveItem(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = svc.RemoveItem(ctx, "u1", "p1")
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)
}

func TestClear(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpsertItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	cart, err := svc.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	cart, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestGet_UsesCacheAndInvalidatesOnWrite(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	cart, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.True(t, mr.Exists("cart:u1"))

	_, err = svc.UpsertItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	assert.False(t, mr.Exists("cart:u1"))

	cart, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
}

func TestGet_CacheDownFallsBackToStore(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	_, err := svc.UpsertItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	mr.Close()

	cart, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
}

type countingCarts struct {
	domain.CartRepository
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingCarts) Get(ctx context.Context, userID string) (domain.Cart, error) {
	c.calls.Add(1)
	<-c.release
	return c.CartRepository.Get(ctx, userID)
}

func TestGet_SingleflightCollapsesConcurrentMisses(t *testing.T) {
	store := memory.NewStore()
	carts := &countingCarts{CartRepository: store.Repositories().Carts, release: make(chan struct{})}
	svc := NewService(store, carts, cache.Noop{}, nil)

	const readers = 8
	var started, wg sync.WaitGroup
	started.Add(readers)
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			started.Done()
			_, err := svc.Get(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(carts.release)
	wg.Wait()

	assert.LessOrEqual(t, carts.calls.Load(), int32(2))
}

// racingCarts выполняет onRead один раз сразу после чтения корзины,
// имитируя запись, которая успела закоммититься до заполнения кэша.
type racingCarts struct {
	domain.CartRepository
	once   sync.Once
	onRead func()
}

func (c *racingCarts) Get(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := c.CartRepository.Get(ctx, userID)
	c.once.Do(c.onRead)
	return cart, err
}

func TestGet_ConcurrentWriteDoesNotLeaveStaleCache(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Repositories().Products.Upsert(ctx, domain.Product{
		ID: "p1", Name: "Mug", Price: decimal.RequireFromString("19.99"), Stock: 5,
	}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cartCache := cache.NewRedisCache(client, time.Minute)

	writer := NewService(store, store.Repositories().Carts, cartCache, nil)
	carts := &racingCarts{CartRepository: store.Repositories().Carts}
	carts.onRead = func() {
		_, err := writer.UpsertItem(ctx, "u1", "p1", 2)
		assert.NoError(t, err)
	}
	reader := NewService(store, carts, cartCache, nil)

	stale, err := reader.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stale.IsEmpty())
	assert.False(t, mr.Exists("cart:u1"), "stale cart must not be cached")

	fresh, err := reader.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, fresh.Items, 1)
	assert.Equal(t, 2, fresh.Items[0].Quantity)
}

func TestGet_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Repositories().Carts.SetItems(context.Background(), "u1", []domain.CartItem{
		{ProductID: "p1", Name: "Mug", Price: decimal.RequireFromString("19.99"), Quantity: 1},
	})
	require.NoError(t, err)

	carts := &countingCarts{CartRepository: store.Repositories().Carts, release: make(chan struct{})}
	svc := NewService(store, carts, cache.Noop{}, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Get(firstCtx, "u1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return carts.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		cart domain.Cart
		err  error
	}
	second := make(chan result, 1)
	go func() {
		cart, err := svc.Get(context.Background(), "u1")
		second <- result{cart: cart, err: err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(carts.release)
	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.cart.Items, 1)
}
