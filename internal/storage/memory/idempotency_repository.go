package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type idempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей оформления заказа.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[record.Key]; ok && !existing.Expired(record.CreatedAt) {
		if existing.RequestHash != record.RequestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	r.records[record.Key] = record
	return copyRecord(record), nil
}

func (r *idempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *idempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, responseBody, httpStatus)
}

// DeleteExpired удаляет самые старые просроченные записи, не больше limit за вызов.
func (r *idempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepository) finish(key string, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Finish(body, httpStatus, r.now())
	r.records[key] = record
	return nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
