package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

var baseTime = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, store *memory.Store, userID, price string, status domain.OrderStatus, createdAt time.Time) domain.Order {
	t.Helper()

	items := []domain.CartItem{{ProductID: "p1", Name: "Item", Price: decimal.RequireFromString(price), Quantity: 1}}
	totals := domain.ComputeTotals(items)
	order, err := store.Repositories().Orders.Create(context.Background(), domain.Order{
		UserID:          userID,
		Items:           domain.OrderItemsFromCart(items),
		ShippingAddress: "1 Main St",
		PaymentMethod:   "card",
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Shipping:        totals.Shipping,
		Total:           totals.Total,
		Status:          status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	})
	require.NoError(t, err)
	return order
}

// seedOrderWithTotal создаёт заказ с заданным итогом, минуя пересчёт.
func seedOrderWithTotal(t *testing.T, store *memory.Store, userID, total string, createdAt time.Time) domain.Order {
	t.Helper()

	amount := decimal.RequireFromString(total)
	order, err := store.Repositories().Orders.Create(context.Background(), domain.Order{
		UserID:    userID,
		Items:     []domain.OrderItem{{ProductID: "p1", Name: "Item", Price: amount, Quantity: 1}},
		Total:     amount,
		Status:    domain.OrderStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	require.NoError(t, err)
	return order
}
