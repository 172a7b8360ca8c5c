package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	// DefaultTTL базовое время жизни корзины в кэше.
	DefaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute
	// generationTTL заметно больше любого окна между чтением и заполнением.
	generationTTL = 24 * time.Hour
)

// RedisCache хранит корзины в Redis в виде JSON, рядом лежит счётчик поколения.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewRedisCache создаёт кэш поверх клиента Redis. ttl <= 0 заменяется DefaultTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, userID string) (uint64, error) {
	return readGeneration(r.client.Get(ctx, generationKey(userID)))
}

// Fill сохраняет корзину, только если поколение не изменилось. Проверка и запись
// идут под WATCH, поэтому параллельный Delete отменяет заполнение.
// TTL получает случайный разброс, чтобы ключи не истекали одновременно.
func (r *RedisCache) Fill(ctx context.Context, cart domain.Cart, generation uint64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	genKey := generationKey(cart.UserID)
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if current != generation {
			return ErrStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(cart.UserID), data, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleFill), errors.Is(err, redis.TxFailedErr):
		return ErrStaleFill
	default:
		return fmt.Errorf("redis fill failed: %w", err)
	}
}

// Delete удаляет корзину и увеличивает поколение одной транзакцией MULTI.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	genKey := generationKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func readGeneration(cmd *redis.StringCmd) (uint64, error) {
	generation, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation read failed: %w", err)
	}
	return generation, nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart:%s:gen", userID)
}

var _ CartCache = (*RedisCache)(nil)
