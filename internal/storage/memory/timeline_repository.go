package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type timelineRepository struct {
	store *Store
	tx    bool
}

// Append добавляет событие в хранилище.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	defer r.store.write(r.tx)()

	events := append(r.store.state.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.store.state.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	defer r.store.read(r.tx)()

	events := r.store.state.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
