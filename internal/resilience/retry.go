// Package resilience содержит повтор с экспоненциальной задержкой и circuit breaker.
package resilience

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// Retry выполняет fn, пока она возвращает ошибку, для которой retryable
// сообщает true, и попытки не исчерпаны. Возвращает последнюю ошибку.
// Ожидание между попытками прерывается отменой контекста.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, logger *log.Entry, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Debug("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
