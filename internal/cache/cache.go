// Package cache кэширует корзины покупателей перед хранилищем.
package cache

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CartCache кэш корзин по идентификатору пользователя.
//
// Каждая инвалидация (Delete) увеличивает поколение корзины. Читатель снимает
// поколение до чтения из хранилища и передаёт его в Fill: если между чтением
// и заполнением корзину успели изменить, старая версия в кэш не попадёт.
type CartCache interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Generation(ctx context.Context, userID string) (uint64, error)
	Fill(ctx context.Context, cart domain.Cart, generation uint64) error
	Delete(ctx context.Context, userID string) error
}

var (
	// ErrCacheMiss возвращается, если корзины нет в кэше.
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleFill означает, что корзину инвалидировали после снятия поколения.
	ErrStaleFill = errors.New("cart changed since generation was read")
)

// Noop кэш, который ничего не хранит. Используется без Redis.
type Noop struct{}

func (Noop) Get(context.Context, string) (domain.Cart, error) { return domain.Cart{}, ErrCacheMiss }
func (Noop) Generation(context.Context, string) (uint64, error) { return 0, nil }
func (Noop) Fill(context.Context, domain.Cart, uint64) error { return nil }
func (Noop) Delete(context.Context, string) error { return nil }

var _ CartCache = Noop{}
