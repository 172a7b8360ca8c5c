package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartRepository struct {
	store *Store
	tx    bool
}

func (r *cartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	defer r.store.read(r.tx)()

	cart, ok := r.store.state.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
	}
	cart.Items = cart.CloneItems()
	return cart, nil
}

func (r *cartRepository) SetItems(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	defer r.store.write(r.tx)()

	cart := domain.Cart{
		UserID:    userID,
		Items:     append([]domain.CartItem{}, items...),
		UpdatedAt: time.Now().UTC(),
	}
	r.store.state.carts[userID] = cart
	cart.Items = cart.CloneItems()
	return cart, nil
}

func (r *cartRepository) Clear(_ context.Context, userID string) error {
	defer r.store.write(r.tx)()

	r.store.state.carts[userID] = domain.Cart{
		UserID:    userID,
		Items:     []domain.CartItem{},
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
