// Package cart управляет корзиной покупателя.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/checkout/internal/cache"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	cacheOpTimeout = time.Second
	// loadTimeout ограничивает общее чтение корзины для всех ожидающих.
	loadTimeout = 5 * time.Second
)

// Service читает корзины через кэш и изменяет их в единице работы.
type Service struct {
	uow    domain.UnitOfWork
	carts  domain.CartRepository
	cache  cache.CartCache
	logger *log.Entry
	sfg    singleflight.Group
}

// NewService создаёт сервис корзины. carts используется для чтения вне транзакций.
func NewService(uow domain.UnitOfWork, carts domain.CartRepository, cartCache cache.CartCache, logger *log.Entry) *Service {
	if cartCache == nil {
		cartCache = cache.Noop{}
	}
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{uow: uow, carts: carts, cache: cartCache, logger: logger}
}

// Get возвращает корзину пользователя. Одновременные промахи кэша
// по одному пользователю схлопываются в одно чтение из хранилища; общее
// чтение не зависит от отмены запроса, который его начал.
func (s *Service) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(loadCtx, userID)
	})

	select {
	case <-ctx.Done():
		return domain.Cart{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Cart{}, res.Err
		}
		return res.Val.(domain.Cart), nil
	}
}

func (s *Service) load(ctx context.Context, userID string) (domain.Cart, error) {
	logger := s.logger.WithField("user_id", userID)

	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.WithError(err).Warn("cart cache get failed")
	}

	// Поколение снимается до чтения: инвалидация после него отменит заполнение.
	generation, genErr := s.cache.Generation(ctx, userID)

	cart, err = s.carts.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	if genErr != nil {
		logger.WithError(genErr).Warn("cart cache generation read failed")
		return cart, nil
	}

	switch err := s.cache.Fill(ctx, cart, generation); {
	case err == nil:
	case errors.Is(err, cache.ErrStaleFill):
		logger.Debug("cart changed during read, cache fill skipped")
	default:
		logger.WithError(err).Warn("cart cache fill failed")
	}
	return cart, nil
}

// UpsertItem добавляет товар в корзину или увеличивает количество на quantity.
// Поля позиции копируются из каталога. Итоговое количество не может превышать остаток.
func (s *Service) UpsertItem(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Cart{}, domain.NewError(domain.ErrInvalidInput, "Product ID is required")
	}
	if quantity < 1 {
		return domain.Cart{}, domain.NewError(domain.ErrInvalidInput, "Valid quantity is required")
	}

	return s.mutate(ctx, userID, func(ctx context.Context, repos domain.Repositories, cart domain.Cart) ([]domain.CartItem, error) {
		product, err := repos.Products.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, domain.NewError(domain.ErrProductNotFound, "Product not found")
			}
			return nil, fmt.Errorf("get product: %w", err)
		}

		items := cart.CloneItems()
		idx := cart.FindItem(productID)
		wanted := quantity
		if idx >= 0 {
			wanted += items[idx].Quantity
		}
		if product.Stock < wanted {
			return nil, domain.NewError(domain.ErrInsufficientStock, "Insufficient stock")
		}

		if idx >= 0 {
			items[idx].Quantity = wanted
			return items, nil
		}
		return append(items, domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.Image,
			Quantity:  quantity,
		}), nil
	})
}

// UpdateQuantity задаёт точное количество товара в корзине.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	if quantity < 1 {
		return domain.Cart{}, domain.NewError(domain.ErrInvalidInput, "Valid quantity is required")
	}

	return s.mutate(ctx, userID, func(_ context.Context, _ domain.Repositories, cart domain.Cart) ([]domain.CartItem, error) {
		idx := cart.FindItem(productID)
		if idx < 0 {
			return nil, domain.NewError(domain.ErrCartItemNotFound, "Item not found in cart")
		}
		items := cart.CloneItems()
		items[idx].Quantity = quantity
		return items, nil
	})
}

// RemoveItem удаляет товар из корзины.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (domain.Cart, error) {
	return s.mutate(ctx, userID, func(_ context.Context, _ domain.Repositories, cart domain.Cart) ([]domain.CartItem, error) {
		idx := cart.FindItem(productID)
		if idx < 0 {
			return nil, domain.NewError(domain.ErrCartItemNotFound, "Item not found in cart")
		}
		items := cart.CloneItems()
		return append(items[:idx], items[idx+1:]...), nil
	})
}

// Clear очищает корзину.
func (s *Service) Clear(ctx context.Context, userID string) (domain.Cart, error) {
	return s.mutate(ctx, userID, func(context.Context, domain.Repositories, domain.Cart) ([]domain.CartItem, error) {
		return []domain.CartItem{}, nil
	})
}

type mutation func(ctx context.Context, repos domain.Repositories, cart domain.Cart) ([]domain.CartItem, error)

func (s *Service) mutate(ctx context.Context, userID string, fn mutation) (domain.Cart, error) {
	var result domain.Cart
	err := s.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		cart, err := repos.Carts.Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("get cart: %w", err)
		}
		items, err := fn(ctx, repos, cart)
		if err != nil {
			return err
		}
		result, err = repos.Carts.SetItems(ctx, userID, items)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.invalidate(ctx, userID)
	return result, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidate failed")
	}
}
