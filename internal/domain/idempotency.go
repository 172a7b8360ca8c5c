package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL применяется, когда срок жизни ключа не задан.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает, на каком этапе находится оформление заказа с данным ключом.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// IdempotencyRecord связывает Idempotency-Key покупателя с первым ответом на POST /orders.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScopedIdempotencyKey строит ключ хранилища: один и тот же Idempotency-Key
// у разных покупателей не пересекается.
func ScopedIdempotencyKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return strings.TrimSpace(userID) + ":" + key
}

// NewIdempotencyRecord проверяет ключ и хэш и возвращает запись в статусе processing.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Finish фиксирует итоговый ответ. Коды 4xx/5xx переводят запись в failed.
func (r *IdempotencyRecord) Finish(body []byte, httpStatus int, now time.Time) {
	r.Status = IdempotencyStatusDone
	if httpStatus >= 400 {
		r.Status = IdempotencyStatusFailed
	}
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = now
}

// Replayable сообщает, что ответ сохранён и его можно отдать повторно.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Expired сообщает, что запись может быть удалена очисткой.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}
