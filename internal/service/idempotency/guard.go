package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	// DefaultTTL время жизни ключа идемпотентности.
	DefaultTTL = domain.DefaultIdempotencyTTL
	// completeTimeout ограничивает запись ответа после того, как запрос завершён.
	completeTimeout = 5 * time.Second
)

var (
	// ErrInProgress запрос с тем же ключом ещё выполняется.
	ErrInProgress = domain.NewError(domain.ErrConflict, "Request with the same Idempotency-Key is already processing")
	// ErrKeyReused ключ уже использован с другим телом запроса.
	ErrKeyReused = domain.NewError(domain.ErrConflict, "Idempotency-Key is already used with a different request")
)

// Response сохранённый ответ, который отдаётся повторно.
type Response struct {
	Status int
	Body   []byte
}

// Guard связывает ключ идемпотентности с первым ответом на запрос.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard; ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RequestHash строит отпечаток запроса: операция, вызывающий и тело.
func RequestHash(operation, userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{':'})
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin резервирует ключ покупателя userID. Если запрос с этим ключом уже
// завершён, возвращает сохранённый ответ и replay=true; обработчик в этом
// случае не вызывается.
func (g *Guard) Begin(ctx context.Context, userID, key, requestHash string) (resp Response, replay bool, err error) {
	key = domain.ScopedIdempotencyKey(userID, key)
	if key == "" {
		return Response{}, false, domain.NewError(domain.ErrInvalidInput, "Idempotency-Key must not be empty")
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err == nil {
		return Response{}, false, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, ErrKeyReused
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			return Response{}, false, ErrInProgress
		}
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		return Response{Status: status, Body: record.ResponseBody}, true, nil
	default:
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, false, err
	}
}

// Complete сохраняет ответ для будущих повторов. Запись не зависит от отмены
// ctx: иначе после обрыва соединения ключ остался бы в processing до истечения TTL.
// Ошибки хранилища только логируются, клиент уже получил ответ.
func (g *Guard) Complete(ctx context.Context, userID, key string, resp Response) {
	key = domain.ScopedIdempotencyKey(userID, key)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()

	var err error
	if resp.Status >= http.StatusBadRequest {
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	} else {
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
