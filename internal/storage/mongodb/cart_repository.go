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

type cartRepository struct {
	coll *mongo.Collection
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc cartDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
		}
		return domain.Cart{}, fmt.Errorf("find cart: %w", err)
	}
	return doc.toDomain()
}

func (r *cartRepository) SetItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	update := bson.M{"$set": bson.M{"items": cartItemsToDocs(items), "updated_at": now}}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, update, options.Update().SetUpsert(true)); err != nil {
		return domain.Cart{}, fmt.Errorf("upsert cart: %w", err)
	}
	return domain.Cart{UserID: userID, Items: append([]domain.CartItem{}, items...), UpdatedAt: now}, nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.SetItems(ctx, userID, nil)
	return err
}

var _ domain.CartRepository = (*cartRepository)(nil)
