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

type orderRepository struct {
	coll *mongo.Collection
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order.ID = uuid.NewString()
	// BSON date хранит миллисекунды.
	order.CreatedAt = order.CreatedAt.Truncate(time.Millisecond)
	order.UpdatedAt = order.UpdatedAt.Truncate(time.Millisecond)

	if _, err := r.coll.InsertOne(ctx, orderToDoc(order)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Order{}, domain.ErrOrderAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc orderDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain()
}

func (r *orderRepository) List(ctx context.Context, query domain.OrderListQuery) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"user_id": query.UserID}
	if query.Status != "" {
		filter["status"] = string(query.Status)
	}
	created := bson.M{}
	if !query.CreatedFrom.IsZero() {
		created["$gte"] = query.CreatedFrom
	}
	if !query.CreatedTo.IsZero() {
		created["$lte"] = query.CreatedTo
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(max(query.Offset, 0)))
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find orders: %w", err)
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.toDomain()
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, int(total), nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "status": string(from)}
	update := bson.M{"$set": bson.M{"status": string(to), "updated_at": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc orderDoc
	err := r.coll.FindOneAndUpdate(opCtx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return domain.Order{}, getErr
	}
	return domain.Order{}, domain.ErrStatusConflict
}

var _ domain.OrderRepository = (*orderRepository)(nil)
