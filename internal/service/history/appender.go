// Package history ведёт историю покупок в профиле пользователя.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/resilience"
)

// Appender добавляет заказ в историю покупок. Повторная доставка того же
// события ничего не меняет, поэтому обработчик безопасен при at-least-once.
type Appender struct {
	users  domain.UserRepository
	retry  resilience.RetryConfig
	logger *log.Entry
}

// Option настраивает Appender.
type Option func(*Appender)

// WithRetry задаёт политику повторов при конфликте версий.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Appender) {
		a.retry = cfg
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Appender) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAppender создаёт Appender поверх хранилища профилей.
func NewAppender(users domain.UserRepository, opts ...Option) *Appender {
	a := &Appender{
		users: users,
		retry: resilience.RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2,
		},
		logger: log.WithField("component", "purchase-history"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append записывает заказ в профиль, создавая профиль при его отсутствии.
func (a *Appender) Append(ctx context.Context, req domain.PurchaseHistoryAppend) error {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.OrderID) == "" {
		return domain.NewError(domain.ErrInvalidInput, "user id and order id are required")
	}

	err := resilience.Retry(ctx, a.retry, domain.IsVersionConflict, a.logger, func(ctx context.Context) error {
		return a.appendOnce(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("append purchase history for user %s: %w", req.UserID, err)
	}
	return nil
}

func (a *Appender) appendOnce(ctx context.Context, req domain.PurchaseHistoryAppend) error {
	profile, err := a.users.Get(ctx, req.UserID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		profile = domain.UserProfile{ID: req.UserID, Email: req.Email, Name: req.Name}
	case err != nil:
		return err
	}

	if !profile.AppendPurchase(req.OrderID) {
		a.logger.WithFields(log.Fields{
			"user_id":  req.UserID,
			"order_id": req.OrderID,
		}).Debug("order already in purchase history")
		return nil
	}

	if _, err := a.users.Save(ctx, profile); err != nil {
		return err
	}
	a.logger.WithFields(log.Fields{
		"user_id":  req.UserID,
		"order_id": req.OrderID,
	}).Info("purchase history updated")
	return nil
}
