// Package orders отвечает за чтение заказов и смену их статуса.
package orders

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	// DefaultLimit размер страницы по умолчанию.
	DefaultLimit = 50
	// MaxLimit максимальный размер страницы.
	MaxLimit = 100
	// maxOffset потолок смещения; дальние страницы заведомо пусты.
	maxOffset = math.MaxInt32

	dateOnly = "2006-01-02"
)

// ListFilter необработанные фильтры выборки в том виде, как их прислал клиент.
type ListFilter struct {
	Status    string
	StartDate string
	EndDate   string
}

// Page страница заказов пользователя.
type Page struct {
	Orders     []domain.Order
	TotalCount int
	TotalPages int
	Page       int
	Limit      int
}

// Stats агрегаты по всем заказам пользователя.
type Stats struct {
	TotalOrders       int
	TotalSpent        decimal.Decimal
	AverageOrderValue decimal.Decimal
	StatusCounts      map[domain.OrderStatus]int
}

// QueryService выдаёт заказы только их владельцу.
type QueryService struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
}

// NewQueryService создаёт сервис чтения заказов.
func NewQueryService(orders domain.OrderRepository, timeline domain.TimelineRepository) *QueryService {
	return &QueryService{orders: orders, timeline: timeline}
}

// List возвращает страницу заказов пользователя, новые первыми.
func (s *QueryService) List(ctx context.Context, userID string, filter ListFilter, page, limit int) (Page, error) {
	query, err := buildQuery(userID, filter)
	if err != nil {
		return Page{}, err
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 {
		page = 1
	}
	query.Offset = maxOffset
	if page-1 <= maxOffset/limit {
		query.Offset = (page - 1) * limit
	}
	query.Limit = limit

	orders, total, err := s.orders.List(ctx, query)
	if err != nil {
		return Page{}, fmt.Errorf("list orders: %w", err)
	}

	return Page{
		Orders:     orders,
		TotalCount: total,
		TotalPages: (total + limit - 1) / limit,
		Page:       page,
		Limit:      limit,
	}, nil
}

// GetByID возвращает заказ, если он принадлежит пользователю.
func (s *QueryService) GetByID(ctx context.Context, userID, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, notFoundOr(err)
	}
	if order.UserID != userID {
		return domain.Order{}, domain.NewError(domain.ErrForbidden, "Access denied")
	}
	return order, nil
}

// Timeline возвращает историю заказа его владельцу.
func (s *QueryService) Timeline(ctx context.Context, userID, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.GetByID(ctx, userID, orderID); err != nil {
		return nil, err
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

// Stats считает число заказов, сумму, средний чек и распределение по статусам.
func (s *QueryService) Stats(ctx context.Context, userID string) (Stats, error) {
	orders, _, err := s.orders.List(ctx, domain.OrderListQuery{UserID: userID})
	if err != nil {
		return Stats{}, fmt.Errorf("list orders for stats: %w", err)
	}

	stats := Stats{
		TotalSpent:        decimal.Zero,
		AverageOrderValue: decimal.Zero,
		StatusCounts:      make(map[domain.OrderStatus]int, len(domain.OrderStatuses)),
	}
	for _, status := range domain.OrderStatuses {
		stats.StatusCounts[status] = 0
	}

	for _, order := range orders {
		stats.TotalOrders++
		stats.TotalSpent = stats.TotalSpent.Add(order.Total)
		if _, ok := stats.StatusCounts[order.Status]; ok {
			stats.StatusCounts[order.Status]++
		}
	}

	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = domain.RoundMoney(stats.TotalSpent.Div(decimal.NewFromInt(int64(stats.TotalOrders))))
	}
	stats.TotalSpent = domain.RoundMoney(stats.TotalSpent)
	return stats, nil
}

func buildQuery(userID string, filter ListFilter) (domain.OrderListQuery, error) {
	query := domain.OrderListQuery{UserID: userID}

	status := strings.TrimSpace(filter.Status)
	if status != "" && !strings.EqualFold(status, "all") {
		parsed, err := domain.ParseOrderStatus(status)
		if err != nil {
			return domain.OrderListQuery{}, err
		}
		query.Status = parsed
	}

	from, err := parseDate(filter.StartDate, false)
	if err != nil {
		return domain.OrderListQuery{}, domain.NewError(domain.ErrInvalidInput, "Invalid startDate")
	}
	to, err := parseDate(filter.EndDate, true)
	if err != nil {
		return domain.OrderListQuery{}, domain.NewError(domain.ErrInvalidInput, "Invalid endDate")
	}
	query.CreatedFrom = from
	query.CreatedTo = to
	return query, nil
}

// parseDate принимает RFC 3339 или YYYY-MM-DD. Для конца диапазона
// дата без времени покрывает весь день.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func notFoundOr(err error) error {
	if domain.IsNotFound(err) {
		return domain.NewError(domain.ErrOrderNotFound, "Order not found")
	}
	return fmt.Errorf("get order: %w", err)
}
