package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// state всё содержимое in-memory хранилища. Копируется целиком для отката.
type state struct {
	carts     map[string]domain.Cart
	products  map[string]domain.Product
	orders    map[string]domain.Order
	users     map[string]domain.UserProfile
	outbox    map[string]outboxRecord
	timeline  map[string][]domain.TimelineEvent
	outboxSeq int64
}

func newState() *state {
	return &state{
		carts:    make(map[string]domain.Cart),
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		users:    make(map[string]domain.UserProfile),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	dst := newState()
	for k, v := range s.carts {
		v.Items = append([]domain.CartItem(nil), v.Items...)
		dst.carts[k] = v
	}
	for k, v := range s.products {
		dst.products[k] = v
	}
	for k, v := range s.orders {
		dst.orders[k] = cloneOrder(v)
	}
	for k, v := range s.users {
		v.PurchaseHistory = append([]string(nil), v.PurchaseHistory...)
		dst.users[k] = v
	}
	for k, v := range s.outbox {
		dst.outbox[k] = v
	}
	for k, v := range s.timeline {
		dst.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	dst.outboxSeq = s.outboxSeq
	return dst
}

// Store in-memory хранилище для локальной разработки и тестов.
// Единицы работы сериализуются одним мьютексом и откатываются по снимку.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Repositories возвращает репозитории, каждая операция которых атомарна сама по себе.
func (s *Store) Repositories() domain.Repositories {
	return s.repositories(false)
}

func (s *Store) repositories(tx bool) domain.Repositories {
	return domain.Repositories{
		Carts:    &cartRepository{store: s, tx: tx},
		Products: &productRepository{store: s, tx: tx},
		Orders:   &orderRepository{store: s, tx: tx},
		Users:    &userRepository{store: s, tx: tx},
		Outbox:   &outboxRepository{store: s, tx: tx},
		Timeline: &timelineRepository{store: s, tx: tx},
	}
}

// WithinTx выполняет fn под эксклюзивной блокировкой; при ошибке состояние восстанавливается.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.repositories(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// read и write берут блокировку, если вызов идёт не из единицы работы.
func (s *Store) read(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) write(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

var _ domain.UnitOfWork = (*Store)(nil)
