package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/orders"
)

// envelope общий формат ответа API.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// listEnvelope ответ GET /orders с данными пагинации.
type listEnvelope struct {
	Success     bool       `json:"success"`
	Count       int        `json:"count"`
	TotalCount  int        `json:"totalCount"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
	Data        []orderDTO `json:"data"`
}

type checkoutRequest struct {
	ShippingAddress string `json:"shippingAddress"`
	PaymentMethod   string `json:"paymentMethod"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity,omitempty"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type orderItemDTO struct {
	ProductID   string      `json:"productId"`
	Name        string      `json:"name"`
	Price       json.Number `json:"price"`
	Image       string      `json:"image,omitempty"`
	Quantity    int         `json:"quantity"`
	StockStatus string      `json:"stockStatus,omitempty"`
}

type orderDTO struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"userId"`
	UserEmail          string         `json:"userEmail,omitempty"`
	UserName           string         `json:"userName,omitempty"`
	Items              []orderItemDTO `json:"items"`
	ShippingAddress    string         `json:"shippingAddress"`
	PaymentMethod      string         `json:"paymentMethod"`
	Subtotal           json.Number    `json:"subtotal"`
	Tax                json.Number    `json:"tax"`
	Shipping           json.Number    `json:"shipping"`
	Total              json.Number    `json:"total"`
	Status             string         `json:"status"`
	PartiallyFulfilled bool           `json:"partiallyFulfilled"`
	CreatedAt          string         `json:"createdAt"`
	UpdatedAt          string         `json:"updatedAt"`
}

type statsDTO struct {
	TotalOrders       int            `json:"totalOrders"`
	TotalSpent        json.Number    `json:"totalSpent"`
	AverageOrderValue json.Number    `json:"averageOrderValue"`
	StatusCounts      map[string]int `json:"statusCounts"`
}

type timelineEventDTO struct {
	Type       string `json:"type"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

type cartItemDTO struct {
	ProductID string      `json:"productId"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	Image     string      `json:"image,omitempty"`
	Quantity  int         `json:"quantity"`
}

type cartDTO struct {
	UserID    string        `json:"userId"`
	Items     []cartItemDTO `json:"items"`
	Total     json.Number   `json:"total"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

// money отдаёт сумму числом JSON ровно с двумя знаками.
func money(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Price:       money(item.Price),
			Image:       item.Image,
			Quantity:    item.Quantity,
			StockStatus: string(item.StockStatus),
		})
	}

	return orderDTO{
		ID:                 order.ID,
		UserID:             order.UserID,
		UserEmail:          order.UserEmail,
		UserName:           order.UserName,
		Items:              items,
		ShippingAddress:    order.ShippingAddress,
		PaymentMethod:      order.PaymentMethod,
		Subtotal:           money(order.Subtotal),
		Tax:                money(order.Tax),
		Shipping:           money(order.Shipping),
		Total:              money(order.Total),
		Status:             string(order.Status),
		PartiallyFulfilled: order.PartiallyFulfilled,
		CreatedAt:          timestamp(order.CreatedAt),
		UpdatedAt:          timestamp(order.UpdatedAt),
	}
}

func toOrderDTOs(list []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(list))
	for _, order := range list {
		out = append(out, toOrderDTO(order))
	}
	return out
}

func toStatsDTO(stats orders.Stats) statsDTO {
	counts := make(map[string]int, len(stats.StatusCounts))
	for status, n := range stats.StatusCounts {
		counts[string(status)] = n
	}
	return statsDTO{
		TotalOrders:       stats.TotalOrders,
		TotalSpent:        money(stats.TotalSpent),
		AverageOrderValue: money(stats.AverageOrderValue),
		StatusCounts:      counts,
	}
}

func toTimelineDTOs(events []domain.TimelineEvent) []timelineEventDTO {
	out := make([]timelineEventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, timelineEventDTO{
			Type:       event.Type,
			Status:     string(event.Status),
			Reason:     event.Reason,
			OccurredAt: timestamp(event.Occurred),
		})
	}
	return out
}

func toCartDTO(cart domain.Cart) cartDTO {
	items := make([]cartItemDTO, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     money(item.Price),
			Image:     item.Image,
			Quantity:  item.Quantity,
		})
	}
	return cartDTO{
		UserID:    cart.UserID,
		Items:     items,
		Total:     money(domain.ComputeTotals(cart.Items).Subtotal),
		UpdatedAt: timestamp(cart.UpdatedAt),
	}
}
