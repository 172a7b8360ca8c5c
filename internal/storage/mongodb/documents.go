package mongodb

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Деньги хранятся как Decimal128, чтобы не терять копейки на float.

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	value, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// decimal.String всегда даёт корректную десятичную запись.
		panic(fmt.Sprintf("convert %s to decimal128: %v", d, err))
	}
	return value
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal128 %s: %w", d.String(), err)
	}
	return value, nil
}

type cartItemDoc struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Image     string               `bson:"image"`
	Quantity  int                  `bson:"quantity"`
}

type cartDoc struct {
	UserID    string        `bson:"_id"`
	Items     []cartItemDoc `bson:"items"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func cartItemsToDocs(items []domain.CartItem) []cartItemDoc {
	docs := make([]cartItemDoc, 0, len(items))
	for _, item := range items {
		docs = append(docs, cartItemDoc{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     toDecimal128(item.Price),
			Image:     item.Image,
			Quantity:  item.Quantity,
		})
	}
	return docs
}

func (d cartDoc) toDomain() (domain.Cart, error) {
	cart := domain.Cart{UserID: d.UserID, Items: make([]domain.CartItem, 0, len(d.Items)), UpdatedAt: d.UpdatedAt.UTC()}
	for _, item := range d.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return domain.Cart{}, err
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     price,
			Image:     item.Image,
			Quantity:  item.Quantity,
		})
	}
	return cart, nil
}

type productDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Image     string               `bson:"image"`
	Stock     int                  `bson:"stock"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d productDoc) toDomain() (domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{ID: d.ID, Name: d.Name, Price: price, Image: d.Image, Stock: d.Stock, UpdatedAt: d.UpdatedAt.UTC()}, nil
}

type orderItemDoc struct {
	ProductID   string               `bson:"product_id"`
	Name        string               `bson:"name"`
	Price       primitive.Decimal128 `bson:"price"`
	Image       string               `bson:"image"`
	Quantity    int                  `bson:"quantity"`
	StockStatus string               `bson:"stock_status"`
}

type orderDoc struct {
	ID                 string               `bson:"_id"`
	UserID             string               `bson:"user_id"`
	UserEmail          string               `bson:"user_email"`
	UserName           string               `bson:"user_name"`
	Items              []orderItemDoc       `bson:"items"`
	ShippingAddress    string               `bson:"shipping_address"`
	PaymentMethod      string               `bson:"payment_method"`
	Subtotal           primitive.Decimal128 `bson:"subtotal"`
	Tax                primitive.Decimal128 `bson:"tax"`
	Shipping           primitive.Decimal128 `bson:"shipping"`
	Total              primitive.Decimal128 `bson:"total"`
	Status             string               `bson:"status"`
	PartiallyFulfilled bool                 `bson:"partially_fulfilled"`
	CreatedAt          time.Time            `bson:"created_at"`
	UpdatedAt          time.Time            `bson:"updated_at"`
}

func orderToDoc(order domain.Order) orderDoc {
	items := make([]orderItemDoc, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDoc{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Price:       toDecimal128(item.Price),
			Image:       item.Image,
			Quantity:    item.Quantity,
			StockStatus: string(item.StockStatus),
		})
	}
	return orderDoc{
		ID:                 order.ID,
		UserID:             order.UserID,
		UserEmail:          order.UserEmail,
		UserName:           order.UserName,
		Items:              items,
		ShippingAddress:    order.ShippingAddress,
		PaymentMethod:      order.PaymentMethod,
		Subtotal:           toDecimal128(order.Subtotal),
		Tax:                toDecimal128(order.Tax),
		Shipping:           toDecimal128(order.Shipping),
		Total:              toDecimal128(order.Total),
		Status:             string(order.Status),
		PartiallyFulfilled: order.PartiallyFulfilled,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
}

func (d orderDoc) toDomain() (domain.Order, error) {
	order := domain.Order{
		ID:                 d.ID,
		UserID:             d.UserID,
		UserEmail:          d.UserEmail,
		UserName:           d.UserName,
		Items:              make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress:    d.ShippingAddress,
		PaymentMethod:      d.PaymentMethod,
		Status:             domain.OrderStatus(d.Status),
		PartiallyFulfilled: d.PartiallyFulfilled,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}

	money := []struct {
		src primitive.Decimal128
		dst *decimal.Decimal
	}{
		{d.Subtotal, &order.Subtotal},
		{d.Tax, &order.Tax},
		{d.Shipping, &order.Shipping},
		{d.Total, &order.Total},
	}
	for _, m := range money {
		value, err := fromDecimal128(m.src)
		if err != nil {
			return domain.Order{}, err
		}
		*m.dst = value
	}

	for _, item := range d.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			Name:        item.Name,
			Price:       price,
			Image:       item.Image,
			Quantity:    item.Quantity,
			StockStatus: domain.StockStatus(item.StockStatus),
		})
	}
	return order, nil
}

type userDoc struct {
	ID              string    `bson:"_id"`
	Email           string    `bson:"email"`
	Name            string    `bson:"name"`
	PurchaseHistory []string  `bson:"purchase_history"`
	Version         int64     `bson:"version"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

type outboxDoc struct {
	ID            string    `bson:"_id"`
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id"`
	EventType     string    `bson:"event_type"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	AttemptCount  int       `bson:"attempt_count"`
	LastError     string    `bson:"last_error,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d outboxDoc) message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.ID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       d.Payload,
		Attempts:      d.AttemptCount,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type timelineDoc struct {
	OrderID  string    `bson:"order_id"`
	Type     string    `bson:"type"`
	Status   string    `bson:"status"`
	Reason   string    `bson:"reason"`
	Occurred time.Time `bson:"occurred_at"`
}

type idempotencyDoc struct {
	Key          string    `bson:"_id"`
	RequestHash  string    `bson:"request_hash"`
	ResponseBody []byte    `bson:"response_body,omitempty"`
	HTTPStatus   int       `bson:"http_status"`
	Status       string    `bson:"status"`
	TTLAt        time.Time `bson:"ttl_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}
