package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type orderRepository struct {
	store *Store
	tx    bool
}

// Create назначает заказу идентификатор и сохраняет копию.
func (r *orderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	defer r.store.write(r.tx)()

	order.ID = uuid.NewString()
	if _, exists := r.store.state.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	r.store.state.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	defer r.store.read(r.tx)()

	order, ok := r.store.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) List(_ context.Context, query domain.OrderListQuery) ([]domain.Order, int, error) {
	defer r.store.read(r.tx)()

	matched := make([]domain.Order, 0)
	for _, order := range r.store.state.orders {
		if order.UserID != query.UserID {
			continue
		}
		if query.Status != "" && order.Status != query.Status {
			continue
		}
		if !query.CreatedFrom.IsZero() && order.CreatedAt.Before(query.CreatedFrom) {
			continue
		}
		if !query.CreatedTo.IsZero() && order.CreatedAt.After(query.CreatedTo) {
			continue
		}
		matched = append(matched, order)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := min(max(query.Offset, 0), total)
	end := total
	if query.Limit > 0 && query.Limit < end-start {
		end = start + query.Limit
	}

	page := make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		page = append(page, cloneOrder(order))
	}
	return page, total, nil
}

func (r *orderRepository) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	defer r.store.write(r.tx)()

	order, ok := r.store.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.Order{}, domain.ErrStatusConflict
	}
	order.Status = to
	order.UpdatedAt = at
	r.store.state.orders[id] = order
	return cloneOrder(order), nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepository)(nil)
