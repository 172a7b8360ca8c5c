package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает стадию исполнения заказа.
type OrderStatus string

const (
	// OrderStatusPending заказ создан и ждёт обработки.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses перечисляет все допустимые статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ParseOrderStatus приводит строку к OrderStatus или возвращает ErrInvalidStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", NewError(ErrInvalidStatus, "Invalid status")
	}
	return status, nil
}

// StockStatus фиксирует результат списания остатка по позиции.
type StockStatus string

const (
	// StockReserved остаток списан полностью.
	StockReserved StockStatus = "reserved"
	// StockBackordered остатка не хватило, позиция ждёт поставки.
	StockBackordered StockStatus = "backordered"
	// StockSkipped товар исчез из каталога, списывать нечего.
	StockSkipped StockStatus = "skipped"
)

// OrderItem снимок позиции корзины на момент оформления.
type OrderItem struct {
	ProductID   string
	Name        string
	Price       decimal.Decimal
	Image       string
	Quantity    int
	StockStatus StockStatus
}

// Order оформленный заказ. После создания меняются только Status и UpdatedAt.
type Order struct {
	ID                 string
	UserID             string
	UserEmail          string
	UserName           string
	Items              []OrderItem
	ShippingAddress    string
	PaymentMethod      string
	Subtotal           decimal.Decimal
	Tax                decimal.Decimal
	Shipping           decimal.Decimal
	Total              decimal.Decimal
	Status             OrderStatus
	PartiallyFulfilled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItemsFromCart замораживает цены и названия позиций корзины.
func OrderItemsFromCart(items []CartItem) []OrderItem {
	result := make([]OrderItem, 0, len(items))
	for _, item := range items {
		result = append(result, OrderItem{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Price:       item.Price,
			Image:       item.Image,
			Quantity:    item.Quantity,
			StockStatus: StockReserved,
		})
	}
	return result
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, NewError(ErrInvalidInput, "order user is required"))
	}
	if len(o.Items) == 0 {
		errs = append(errs, NewError(ErrInvalidInput, "order must contain at least one item"))
	}
	if !o.Status.Valid() {
		errs = append(errs, NewError(ErrInvalidStatus, "Invalid status"))
	}

	cartItems := make([]CartItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, NewError(ErrInvalidInput, "item quantity must be at least 1"))
		}
		if item.Price.IsNegative() {
			errs = append(errs, NewError(ErrInvalidInput, "item price must be non-negative"))
		}
		cartItems = append(cartItems, CartItem{Price: item.Price, Quantity: item.Quantity})
	}

	// Сверяем суммы заказа с пересчётом по позициям.
	totals := ComputeTotals(cartItems)
	if !totals.Subtotal.Equal(o.Subtotal) || !totals.Tax.Equal(o.Tax) ||
		!totals.Shipping.Equal(o.Shipping) || !totals.Total.Equal(o.Total) {
		errs = append(errs, NewError(ErrInvalidInput, "order totals do not match items"))
	}

	return errs
}
