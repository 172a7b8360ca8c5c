package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type outboxRepository struct {
	coll *mongo.Collection
}

var pendingSort = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func pendingFilter() bson.M {
	return bson.M{"status": string(domain.OutboxStatusPending)}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0
	msg.CreatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, outboxDoc{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Status:        string(domain.OutboxStatusPending),
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     msg.CreatedAt,
	}); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, pendingFilter(), options.Find().SetSort(pendingSort).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("find pending outbox: %w", err)
	}
	var docs []outboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pending outbox: %w", err)
	}

	pending := make([]domain.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		pending = append(pending, doc.message())
	}
	return pending, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pending, err := r.coll.CountDocuments(ctx, pendingFilter())
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count pending outbox: %w", err)
	}
	failed, err := r.coll.CountDocuments(ctx, bson.M{"status": string(domain.OutboxStatusFailed)})
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count failed outbox: %w", err)
	}
	stats := domain.OutboxStats{PendingCount: int(pending), FailedCount: int(failed)}
	if pending == 0 {
		return stats, nil
	}

	var oldest outboxDoc
	err = r.coll.FindOne(ctx, pendingFilter(), options.FindOne().SetSort(pendingSort)).Decode(&oldest)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		// Сообщение успели отправить между запросами.
	case err != nil:
		return domain.OutboxStats{}, fmt.Errorf("find oldest pending outbox: %w", err)
	default:
		stats.OldestPendingAt = oldest.CreatedAt.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, bson.M{"status": string(domain.OutboxStatusSent)})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, bson.M{
		"status":     string(domain.OutboxStatusFailed),
		"last_error": domain.OutboxFailureReason(reason),
	})
}

func (r *outboxRepository) transition(ctx context.Context, id string, set bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set["updated_at"] = time.Now().UTC()
	res, err := r.coll.UpdateByID(ctx, id, bson.M{
		"$set": set,
		"$inc": bson.M{"attempt_count": 1},
	})
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

type timelineRepository struct {
	coll *mongo.Collection
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := timelineDoc{
		OrderID:  event.OrderID,
		Type:     event.Type,
		Status:   string(event.Status),
		Reason:   event.Reason,
		Occurred: event.Occurred,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, bson.M{"order_id": orderID}, options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find timeline events: %w", err)
	}
	var docs []timelineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode timeline events: %w", err)
	}

	result := make([]domain.TimelineEvent, 0, len(docs))
	for _, doc := range docs {
		result = append(result, domain.TimelineEvent{
			OrderID:  doc.OrderID,
			Type:     doc.Type,
			Status:   domain.OrderStatus(doc.Status),
			Reason:   doc.Reason,
			Occurred: doc.Occurred.UTC(),
		})
	}
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
