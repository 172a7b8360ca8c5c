package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	store *Store
	tx    bool
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	defer r.store.read(r.tx)()

	product, ok := r.store.state.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// DecrementStock проверяет и списывает остаток под одной блокировкой.
func (r *productRepository) DecrementStock(_ context.Context, id string, quantity int) (domain.Product, error) {
	defer r.store.write(r.tx)()

	product, ok := r.store.state.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.Stock < quantity {
		return product, domain.ErrInsufficientStock
	}
	product.Stock -= quantity
	product.UpdatedAt = time.Now().UTC()
	r.store.state.products[id] = product
	return product, nil
}

func (r *productRepository) Upsert(_ context.Context, product domain.Product) error {
	defer r.store.write(r.tx)()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	r.store.state.products[product.ID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
