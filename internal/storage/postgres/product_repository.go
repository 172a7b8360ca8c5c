package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	q queryer
}

const productColumns = `id, name, price, image, stock, updated_at`

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// DecrementStock списывает остаток одним условным UPDATE, поэтому
// параллельные checkout не могут увести stock в минус.
func (r *productRepository) DecrementStock(ctx context.Context, id string, quantity int) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = $3
		WHERE id = $1 AND stock >= $2
		RETURNING `+productColumns,
		id, quantity, time.Now().UTC(),
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("decrement stock: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return domain.Product{}, getErr
	}
	return current, domain.ErrInsufficientStock
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, image, stock, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    image = EXCLUDED.image,
		    stock = EXCLUDED.stock,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Price, product.Image, product.Stock, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func scanProduct(row *sql.Row) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Image, &product.Stock, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
