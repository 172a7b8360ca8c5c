package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type idempotencyRepository struct {
	coll *mongo.Collection
}

// NewIdempotencyRepository создаёт MongoDB-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{coll: store.db.Collection(collIdempotency)}
}

// CreateProcessing занимает ключ. Upsert по фильтру "просрочен" заменяет
// старую запись, а живая запись даёт duplicate key и возвращается как конфликт.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, time.Now().UTC().Truncate(time.Millisecond))
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": record.Key, "ttl_at": bson.M{"$lte": record.CreatedAt}}
	_, err = r.coll.ReplaceOne(opCtx, filter, newIdempotencyDoc(record), options.Replace().SetUpsert(true))
	if err == nil {
		return record, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	existing, getErr := r.Get(ctx, record.Key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != record.RequestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc idempotencyDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit просроченных ключей, самые старые первыми.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"ttl_at": bson.M{"$lte": before}}
	if limit > 0 {
		opts := options.Find().
			SetSort(bson.D{{Key: "ttl_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1})
		cursor, err := r.coll.Find(ctx, filter, opts)
		if err != nil {
			return 0, fmt.Errorf("find expired idempotency records: %w", err)
		}
		var docs []struct {
			Key string `bson:"_id"`
		}
		if err := cursor.All(ctx, &docs); err != nil {
			return 0, fmt.Errorf("decode expired idempotency records: %w", err)
		}
		if len(docs) == 0 {
			return 0, nil
		}
		keys := make([]string, 0, len(docs))
		for _, doc := range docs {
			keys = append(keys, doc.Key)
		}
		filter = bson.M{"_id": bson.M{"$in": keys}}
	}

	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	var record domain.IdempotencyRecord
	record.Finish(responseBody, httpStatus, time.Now().UTC())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": bson.M{
		"response_body": record.ResponseBody,
		"http_status":   record.HTTPStatus,
		"status":        string(record.Status),
		"updated_at":    record.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func newIdempotencyDoc(record domain.IdempotencyRecord) idempotencyDoc {
	return idempotencyDoc{
		Key:         record.Key,
		RequestHash: record.RequestHash,
		Status:      string(record.Status),
		TTLAt:       record.TTLAt,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func (d idempotencyDoc) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          d.Key,
		RequestHash:  d.RequestHash,
		ResponseBody: append([]byte(nil), d.ResponseBody...),
		HTTPStatus:   d.HTTPStatus,
		Status:       domain.IdempotencyStatus(d.Status),
		TTLAt:        d.TTLAt.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
