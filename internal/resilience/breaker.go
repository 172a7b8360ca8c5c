package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen возвращается, пока breaker отклоняет вызовы.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig параметры circuit breaker.
type BreakerConfig struct {
	Name string
	// FailureThreshold подряд идущих отказов переводит breaker в open.
	FailureThreshold int
	// OpenTimeout время в open до пробного вызова.
	OpenTimeout time.Duration
}

// CircuitBreaker отсекает вызовы зависимости после серии отказов.
// В half-open пропускается ровно один пробный вызов.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *log.Entry
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(cfg BreakerConfig, logger *log.Entry) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger.WithField("breaker", cfg.Name),
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Do вызывает fn, если breaker это разрешает. Отмена контекста вызывающего
// не считается отказом зависимости.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release(probe)
		return err
	}
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.Info("circuit breaker half-open")
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	if err == nil {
		if cb.state != CircuitClosed {
			cb.logger.Info("circuit breaker closed")
		}
		cb.state = CircuitClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.cfg.FailureThreshold {
		if cb.state != CircuitOpen {
			cb.logger.WithError(err).WithField("failures", cb.failures).Warn("circuit breaker opened")
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}
