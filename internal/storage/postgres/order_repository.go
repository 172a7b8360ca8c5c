package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const orderColumns = `id, user_id, user_email, user_name, shipping_address, payment_method,
	subtotal, tax, shipping, total, status, partially_fulfilled, created_at, updated_at`

type orderRepository struct {
	q    queryer
	inTx bool
}

// Create назначает заказу UUID и пишет заказ вместе с позициями.
// Вне единицы работы открывает собственную транзакцию.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order.ID = uuid.NewString()

	if r.inTx {
		if err := insertOrder(ctx, r.q, order); err != nil {
			return domain.Order{}, err
		}
		return order, nil
	}

	db, ok := r.q.(*sql.DB)
	if !ok {
		return domain.Order{}, fmt.Errorf("order repository: unexpected queryer %T", r.q)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	if err := insertOrder(ctx, tx, order); err != nil {
		_ = tx.Rollback()
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}
	return order, nil
}

func insertOrder(ctx context.Context, q queryer, order domain.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID, order.UserID, order.UserEmail, order.UserName, order.ShippingAddress, order.PaymentMethod,
		order.Subtotal, order.Tax, order.Shipping, order.Total, string(order.Status), order.PartiallyFulfilled,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, name, price, image, quantity, stock_status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			order.ID, i, item.ProductID, item.Name, item.Price, item.Image, item.Quantity, string(item.StockStatus),
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *orderRepository) List(ctx context.Context, query domain.OrderListQuery) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conds := []string{"user_id = $1"}
	args := []any{query.UserID}
	if query.Status != "" {
		args = append(args, string(query.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !query.CreatedFrom.IsZero() {
		args = append(args, query.CreatedFrom)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !query.CreatedTo.IsZero() {
		args = append(args, query.CreatedTo)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 || query.Offset >= total {
		return []domain.Order{}, total, nil
	}

	stmt := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if query.Limit > 0 {
		args = append(args, query.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(execCtx, `
		UPDATE orders
		SET status = $3,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected for order status: %w", err)
	}

	order, err := r.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrStatusConflict
	}
	return order, nil
}

func (r *orderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids = append(ids, order.ID)
		index[order.ID] = i
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, name, price, image, quantity, stock_status
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID     string
			item        domain.OrderItem
			stockStatus string
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &item.Price, &item.Image, &item.Quantity, &stockStatus); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		item.StockStatus = domain.StockStatus(stockStatus)
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	return nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order  domain.Order
			status string
		)
		if err := rows.Scan(
			&order.ID, &order.UserID, &order.UserEmail, &order.UserName, &order.ShippingAddress, &order.PaymentMethod,
			&order.Subtotal, &order.Tax, &order.Shipping, &order.Total, &status, &order.PartiallyFulfilled,
			&order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
