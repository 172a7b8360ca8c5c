package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// outboxRecord сообщение вместе с полями, которые в SQL лежат в колонках.
type outboxRecord struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	lastError string
	seq       int64
	updatedAt time.Time
}

type outboxRepository struct {
	store *Store
	tx    bool
}

func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	defer r.store.write(r.tx)()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.Attempts = 0
	msg.CreatedAt = time.Now().UTC()

	r.store.state.outboxSeq++
	r.store.state.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		status:    domain.OutboxStatusPending,
		seq:       r.store.state.outboxSeq,
		updatedAt: msg.CreatedAt,
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.store.read(r.tx)()

	if limit <= 0 {
		limit = 100
	}
	pending := r.pendingLocked()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		msg := rec.msg
		msg.Payload = append([]byte(nil), rec.msg.Payload...)
		result = append(result, msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	defer r.store.read(r.tx)()

	var stats domain.OutboxStats
	for _, rec := range r.store.state.outbox {
		switch rec.status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusSent, "")
}

func (r *outboxRepository) MarkFailed(_ context.Context, id, reason string) error {
	return r.transition(id, domain.OutboxStatusFailed, domain.OutboxFailureReason(reason))
}

func (r *outboxRepository) transition(id string, status domain.OutboxStatus, lastError string) error {
	defer r.store.write(r.tx)()

	rec, ok := r.store.state.outbox[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	rec.status = status
	rec.lastError = lastError
	rec.msg.Attempts++
	rec.updatedAt = time.Now().UTC()
	r.store.state.outbox[id] = rec
	return nil
}

func (r *outboxRepository) pendingLocked() []outboxRecord {
	var result []outboxRecord
	for _, rec := range r.store.state.outbox {
		if rec.status == domain.OutboxStatusPending {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b outboxRecord) int { return int(a.seq - b.seq) })
	return result
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
