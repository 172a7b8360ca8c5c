package domain

import (
	"context"
	"time"
)

// CartRepository описывает хранилище корзин (одна корзина на пользователя).
type CartRepository interface {
	// Get возвращает корзину пользователя; если её нет, пустую корзину без ошибки.
	Get(ctx context.Context, userID string) (Cart, error)
	// SetItems полностью заменяет позиции корзины и обновляет UpdatedAt.
	SetItems(ctx context.Context, userID string, items []CartItem) (Cart, error)
	// Clear очищает позиции, не удаляя саму корзину.
	Clear(ctx context.Context, userID string) error
}

// ProductRepository доступ к каталогу товаров и их остаткам.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// DecrementStock атомарно уменьшает остаток. Возвращает ErrProductNotFound,
	// если товара нет, и ErrInsufficientStock, если остаток ушёл бы в минус.
	DecrementStock(ctx context.Context, id string, quantity int) (Product, error)
	// Upsert создаёт или перезаписывает товар.
	Upsert(ctx context.Context, product Product) error
}

// OrderListQuery задаёт фильтры и окно выборки заказов пользователя.
type OrderListQuery struct {
	UserID string
	// Status пустой: без фильтра по статусу.
	Status OrderStatus
	// CreatedFrom и CreatedTo включительны; нулевое значение означает отсутствие границы.
	CreatedFrom time.Time
	CreatedTo   time.Time
	Offset      int
	// Limit <= 0 снимает ограничение.
	Limit int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и назначает ему идентификатор.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает страницу заказов (createdAt по убыванию) и общее число совпадений.
	List(ctx context.Context, query OrderListQuery) ([]Order, int, error)
	// UpdateStatus меняет статус, только если текущий равен from (иначе ErrStatusConflict).
	UpdateStatus(ctx context.Context, id string, from, to OrderStatus, at time.Time) (Order, error)
}

// UserRepository хранит профили покупателей.
type UserRepository interface {
	// Get возвращает профиль или ErrUserNotFound.
	Get(ctx context.Context, id string) (UserProfile, error)
	// Save создаёт профиль (Version == 0) или обновляет его с проверкой версии.
	// При конфликте возвращает ErrVersionConflict.
	Save(ctx context.Context, profile UserProfile) (UserProfile, error)
}

// Repositories набор репозиториев, работающих в одной единице работы.
type Repositories struct {
	Carts    CartRepository
	Products ProductRepository
	Orders   OrderRepository
	Users    UserRepository
	Outbox   OutboxRepository
	Timeline TimelineRepository
}

// UnitOfWork выполняет функцию атомарно: либо все изменения фиксируются, либо ни одно.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
