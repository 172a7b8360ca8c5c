package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type timelineRepository struct {
	q queryer
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, status, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.OrderID, event.Type, string(event.Status), event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return []domain.TimelineEvent{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, type, status, reason, occurred_at
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select timeline events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var (
			event  domain.TimelineEvent
			status string
		)
		if err := rows.Scan(&event.OrderID, &event.Type, &status, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Status = domain.OrderStatus(status)
		event.Occurred = event.Occurred.UTC()
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
