// Package checkout превращает корзину покупателя в заказ.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/tracing"
)

const cacheInvalidateTimeout = time.Second

// Request данные оформления заказа от покупателя.
type Request struct {
	ShippingAddress string
	PaymentMethod   string
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт logger оркестратора.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithCartCache задаёт кэш корзин, который сбрасывается после оформления.
func WithCartCache(c cache.CartCache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator оформляет заказ из корзины в одной единице работы:
// списание остатков, создание заказа, очистка корзины и события outbox
// либо фиксируются вместе, либо откатываются целиком.
type Orchestrator struct {
	uow     domain.UnitOfWork
	cache   cache.CartCache
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewOrchestrator создаёт оркестратор поверх единицы работы хранилища.
func NewOrchestrator(uow domain.UnitOfWork, options ...Option) *Orchestrator {
	o := &Orchestrator{uow: uow}
	for _, option := range options {
		option(o)
	}
	if o.cache == nil {
		o.cache = cache.Noop{}
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "checkout")
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Checkout оформляет заказ из корзины покупателя identity.
func (o *Orchestrator) Checkout(ctx context.Context, identity domain.Identity, req Request) (domain.Order, error) {
	ctx, span := tracing.Tracer().Start(ctx, "checkout.Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.ShippingAddress == "" || req.PaymentMethod == "" {
		o.metrics.RecordCheckout(metrics.ResultInvalid)
		return domain.Order{}, domain.NewError(domain.ErrInvalidInput, "Shipping address and payment method are required")
	}

	done := o.metrics.CheckoutStarted()
	defer done()

	var order domain.Order
	err := o.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		created, err := o.placeOrder(ctx, repos, identity, req)
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrEmptyCart) {
			o.metrics.RecordCheckout(metrics.ResultEmptyCart)
			return domain.Order{}, err
		}
		o.metrics.RecordCheckout(metrics.ResultError)
		return domain.Order{}, fmt.Errorf("checkout: %w", err)
	}

	o.invalidateCart(identity.UserID)
	o.recordOrder(order)
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Bool("order.partially_fulfilled", order.PartiallyFulfilled),
	)

	o.logger.WithFields(log.Fields{
		"order_id":            order.ID,
		"user_id":             order.UserID,
		"items":               len(order.Items),
		"total":               order.Total.StringFixed(2),
		"partially_fulfilled": order.PartiallyFulfilled,
	}).Info("order placed")

	return order, nil
}

func (o *Orchestrator) placeOrder(ctx context.Context, repos domain.Repositories, identity domain.Identity, req Request) (domain.Order, error) {
	cart, err := repos.Carts.Get(ctx, identity.UserID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		return domain.Order{}, domain.NewError(domain.ErrEmptyCart, "Cart is empty")
	}

	totals := domain.ComputeTotals(cart.Items)

	email, name, err := resolveCustomer(ctx, repos.Users, identity)
	if err != nil {
		return domain.Order{}, err
	}

	items, partial, err := reserveStock(ctx, repos.Products, domain.OrderItemsFromCart(cart.Items))
	if err != nil {
		return domain.Order{}, err
	}

	now := o.now().UTC()
	order, err := repos.Orders.Create(ctx, domain.Order{
		UserID:             identity.UserID,
		UserEmail:          email,
		UserName:           name,
		Items:              items,
		ShippingAddress:    req.ShippingAddress,
		PaymentMethod:      req.PaymentMethod,
		Subtotal:           totals.Subtotal,
		Tax:                totals.Tax,
		Shipping:           totals.Shipping,
		Total:              totals.Total,
		Status:             domain.OrderStatusPending,
		PartiallyFulfilled: partial,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	if err := repos.Carts.Clear(ctx, identity.UserID); err != nil {
		return domain.Order{}, fmt.Errorf("clear cart: %w", err)
	}

	if err := repos.Timeline.Append(ctx, domain.OrderCreatedEvent(order, now)); err != nil {
		return domain.Order{}, fmt.Errorf("append timeline: %w", err)
	}

	if err := enqueueSideEffects(ctx, repos.Outbox, order); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

// resolveCustomer берёт email и имя из профиля, подставляя данные идентичности.
func resolveCustomer(ctx context.Context, users domain.UserRepository, identity domain.Identity) (string, string, error) {
	email, name := identity.Email, domain.DefaultCustomerName

	profile, err := users.Get(ctx, identity.UserID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return email, name, nil
	case err != nil:
		return "", "", fmt.Errorf("load user profile: %w", err)
	}

	if profile.Email != "" {
		email = profile.Email
	}
	if profile.Name != "" {
		name = profile.Name
	}
	return email, name, nil
}

// reserveStock списывает остатки по каждой позиции и помечает результат.
// Отсутствующий товар или нехватка остатка не прерывают оформление.
func reserveStock(ctx context.Context, products domain.ProductRepository, items []domain.OrderItem) ([]domain.OrderItem, bool, error) {
	partial := false
	for i := range items {
		_, err := products.DecrementStock(ctx, items[i].ProductID, items[i].Quantity)
		switch {
		case err == nil:
			items[i].StockStatus = domain.StockReserved
		case errors.Is(err, domain.ErrProductNotFound):
			items[i].StockStatus = domain.StockSkipped
			partial = true
		case errors.Is(err, domain.ErrInsufficientStock):
			items[i].StockStatus = domain.StockBackordered
			partial = true
		default:
			return nil, false, fmt.Errorf("decrement stock for %s: %w", items[i].ProductID, err)
		}
	}
	return items, partial, nil
}

func enqueueSideEffects(ctx context.Context, outbox domain.OutboxRepository, order domain.Order) error {
	confirmation, err := domain.NewOutboxMessage(order.ID, domain.EventOrderConfirmationRequested, domain.NewOrderConfirmation(order))
	if err != nil {
		return err
	}
	history, err := domain.NewOutboxMessage(order.ID, domain.EventPurchaseHistoryAppend, domain.PurchaseHistoryAppend{
		UserID:  order.UserID,
		OrderID: order.ID,
		Email:   order.UserEmail,
		Name:    order.UserName,
	})
	if err != nil {
		return err
	}

	for _, msg := range []domain.OutboxMessage{confirmation, history} {
		if _, err := outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", msg.EventType, err)
		}
	}
	return nil
}

func (o *Orchestrator) invalidateCart(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheInvalidateTimeout)
	defer cancel()
	if err := o.cache.Delete(ctx, userID); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate cart cache")
	}
}

func (o *Orchestrator) recordOrder(order domain.Order) {
	statuses := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		statuses = append(statuses, string(item.StockStatus))
	}
	o.metrics.RecordCheckout(metrics.ResultSuccess)
	o.metrics.RecordOrderCreated(statuses, order.PartiallyFulfilled, order.Total.InexactFloat64())
	o.metrics.RecordTimelineEvent()
	o.metrics.RecordOutboxEnqueued(domain.EventOrderConfirmationRequested)
	o.metrics.RecordOutboxEnqueued(domain.EventPurchaseHistoryAppend)
}
