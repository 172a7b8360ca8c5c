package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	connectTimeout = 5 * time.Second
	opTimeout      = 5 * time.Second
	// txTimeout ограничивает единицу работы checkout целиком.
	txTimeout = 15 * time.Second

	pgUniqueViolation = "23505"
)

// PoolConfig параметры пула database/sql.
type PoolConfig struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig подходит для одного инстанса сервиса.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Option меняет параметры подключения.
type Option func(*PoolConfig)

// WithMaxConns задаёт предел открытых и простаивающих соединений.
func WithMaxConns(n int) Option {
	return func(c *PoolConfig) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// queryer общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store хранилище checkout поверх PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN драйвером pgx, настраивает пул и проверяет соединение.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&pool)
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.MaxConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", connCfg.Host, err)
	}
	return store, nil
}

// DB нужен мигратору и репозиторию ключей идемпотентности.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repositories работает вне транзакции, на пуле соединений.
func (s *Store) Repositories() domain.Repositories {
	return newRepositories(s.db, false)
}

func newRepositories(q queryer, inTx bool) domain.Repositories {
	return domain.Repositories{
		Carts:    &cartRepository{q: q, forUpdate: inTx},
		Products: &productRepository{q: q},
		Orders:   &orderRepository{q: q, inTx: inTx},
		Users:    &userRepository{q: q},
		Outbox:   &outboxRepository{q: q},
		Timeline: &timelineRepository{q: q},
	}
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Корзина внутри читается
// с SELECT ... FOR UPDATE, остатки списываются условным UPDATE, поэтому
// параллельные оформления одной корзины сериализуются на строке carts.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin checkout tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(ctx, newRepositories(tx, true)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkout tx: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close закрывает пул; nil-хранилище игнорируется.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ domain.UnitOfWork = (*Store)(nil)
