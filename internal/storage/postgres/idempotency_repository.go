package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
// Ключи живут вне единиц работы checkout: ответ фиксируется после коммита.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing занимает ключ. Просроченная запись с тем же ключом
// перезаписывается в том же запросе, живая возвращается как конфликт.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, time.Now().UTC())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(opCtx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key
	`, record.Key, record.RequestHash, string(record.Status), record.TTLAt, record.CreatedAt)

	var inserted string
	switch err := row.Scan(&inserted); {
	case err == nil:
		return record, nil
	case errors.Is(err, sql.ErrNoRows):
		// Ключ занят живой записью.
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	existing, err := r.Get(ctx, record.Key)
	if err != nil {
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

	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record %s: %w", key, err)
	}
	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, responseBody, httpStatus)
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = -1
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает "без ограничения".
	var limitArg any = limit
	if limit < 0 {
		limitArg = nil
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
	`, before, limitArg)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	var record domain.IdempotencyRecord
	record.Finish(body, httpStatus, time.Now().UTC())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $1, http_status = $2, status = $3, updated_at = $4
		WHERE key = $5
	`, record.ResponseBody, record.HTTPStatus, string(record.Status), record.UpdatedAt, key)
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		body       []byte
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&body,
		&httpStatus,
		&status,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q", status)
	}
	record.ResponseBody = append([]byte(nil), body...)
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
