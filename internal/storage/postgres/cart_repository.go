package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// cartItemRecord JSON-представление позиции в колонке carts.items.
type cartItemRecord struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image"`
	Quantity  int             `json:"quantity"`
}

type cartRepository struct {
	q queryer
	// forUpdate блокирует строку корзины до конца транзакции.
	forUpdate bool
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT items, updated_at FROM carts WHERE user_id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.q.QueryRowContext(ctx, query, userID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	items, err := decodeCartItems(raw)
	if err != nil {
		return domain.Cart{}, err
	}
	return domain.Cart{UserID: userID, Items: items, UpdatedAt: updatedAt.UTC()}, nil
}

func (r *cartRepository) SetItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := encodeCartItems(items)
	if err != nil {
		return domain.Cart{}, err
	}
	now := time.Now().UTC()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET items = EXCLUDED.items,
		    updated_at = EXCLUDED.updated_at
	`, userID, raw, now); err != nil {
		return domain.Cart{}, fmt.Errorf("upsert cart: %w", err)
	}

	return domain.Cart{UserID: userID, Items: append([]domain.CartItem{}, items...), UpdatedAt: now}, nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.SetItems(ctx, userID, nil)
	return err
}

func encodeCartItems(items []domain.CartItem) ([]byte, error) {
	records := make([]cartItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, cartItemRecord(item))
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}
	return raw, nil
}

func decodeCartItems(raw []byte) ([]domain.CartItem, error) {
	var records []cartItemRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode cart items: %w", err)
		}
	}
	items := make([]domain.CartItem, 0, len(records))
	for _, rec := range records {
		items = append(items, domain.CartItem(rec))
	}
	return items, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
