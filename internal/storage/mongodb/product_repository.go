package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	coll *mongo.Collection
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc productDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	return doc.toDomain()
}

// DecrementStock списывает остаток только если его хватает ($gte в фильтре).
func (r *productRepository) DecrementStock(ctx context.Context, id string, quantity int) (domain.Product, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "stock": bson.M{"$gte": quantity}}
	update := bson.M{
		"$inc": bson.M{"stock": -quantity},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc productDoc
	err := r.coll.FindOneAndUpdate(opCtx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
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
	doc := productDoc{
		ID:        product.ID,
		Name:      product.Name,
		Price:     toDecimal128(product.Price),
		Image:     product.Image,
		Stock:     product.Stock,
		UpdatedAt: product.UpdatedAt,
	}
	if _, err := r.coll.ReplaceOne(ctx, bson.M{"_id": product.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
