package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultOutboxBatch = 100

type outboxRepository struct {
	q queryer
}

// Enqueue пишет сообщение в той же транзакции, что и заказ, если q это *sql.Tx.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()
	msg.Attempts = 0

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		string(domain.OutboxStatusPending), msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempt_count, created_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(domain.OutboxStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
			&msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		pending = append(pending, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox rows: %w", err)
	}
	return pending, nil
}

// Stats считает backlog одним запросом через агрегатные FILTER.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			MIN(created_at) FILTER (WHERE status = $1)
		FROM outbox_messages
	`, string(domain.OutboxStatusPending), string(domain.OutboxStatusFailed)).
		Scan(&stats.PendingCount, &stats.FailedCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.OutboxStatusSent, sql.NullString{})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, domain.OutboxStatusFailed, sql.NullString{
		String: domain.OutboxFailureReason(reason),
		Valid:  true,
	})
}

func (r *outboxRepository) transition(ctx context.Context, id string, status domain.OutboxStatus, lastErr sql.NullString) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    last_error = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, string(status), lastErr, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set outbox %s to %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("outbox rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
