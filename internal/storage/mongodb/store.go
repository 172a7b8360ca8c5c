package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	collCarts       = "carts"
	collProducts    = "products"
	collOrders      = "orders"
	collUsers       = "users"
	collOutbox      = "outbox_messages"
	collTimeline    = "timeline_events"
	collIdempotency = "idempotency_keys"

	opTimeout = 5 * time.Second
)

// Store хранит подключение к MongoDB и выдаёт репозитории поверх коллекций.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// Connect подключается к MongoDB и проверяет доступность сервера.
// transactions=true требует replica set: единицы работы идут через сессии.
func Connect(ctx context.Context, uri, database string, transactions bool) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &Store{client: client, db: client.Database(database), transactions: transactions}, nil
}

// EnsureIndexes создаёт индексы для выборок заказов, outbox и очистки ключей.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collOrders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
		collOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		collTimeline: {
			{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
		},
		collIdempotency: {
			{Keys: bson.D{{Key: "ttl_at", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes for %s: %w", coll, err)
		}
	}
	return nil
}

// Repositories возвращает репозитории поверх коллекций базы.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Carts:    &cartRepository{coll: s.db.Collection(collCarts)},
		Products: &productRepository{coll: s.db.Collection(collProducts)},
		Orders:   &orderRepository{coll: s.db.Collection(collOrders)},
		Users:    &userRepository{coll: s.db.Collection(collUsers)},
		Outbox:   &outboxRepository{coll: s.db.Collection(collOutbox)},
		Timeline: &timelineRepository{coll: s.db.Collection(collTimeline)},
	}
}

// WithinTx выполняет fn в multi-document транзакции. Контекст сессии передаётся
// в fn, поэтому все операции репозиториев попадают в одну транзакцию.
// Без поддержки транзакций fn выполняется как есть.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	repos := s.Repositories()
	if !s.transactions {
		return fn(ctx, repos)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongodb session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, repos)
	})
	return err
}

// Ping проверяет доступность сервера.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("mongodb store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, nil)
}

// Close разрывает подключение.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

var _ domain.UnitOfWork = (*Store)(nil)
