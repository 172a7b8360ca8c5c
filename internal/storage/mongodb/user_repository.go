package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type userRepository struct {
	coll *mongo.Collection
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc userDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.UserProfile{}, domain.ErrUserNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("find user: %w", err)
	}
	return domain.UserProfile{
		ID:              doc.ID,
		Email:           doc.Email,
		Name:            doc.Name,
		PurchaseHistory: doc.PurchaseHistory,
		Version:         doc.Version,
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}, nil
}

// Save вставляет профиль с версией 1 или обновляет документ с совпадающей версией.
func (r *userRepository) Save(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if profile.PurchaseHistory == nil {
		profile.PurchaseHistory = []string{}
	}
	now := time.Now().UTC()

	if profile.Version == 0 {
		doc := userDoc{
			ID:              profile.ID,
			Email:           profile.Email,
			Name:            profile.Name,
			PurchaseHistory: profile.PurchaseHistory,
			Version:         1,
			UpdatedAt:       now,
		}
		if _, err := r.coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.UserProfile{}, domain.ErrVersionConflict
			}
			return domain.UserProfile{}, fmt.Errorf("insert user: %w", err)
		}
	} else {
		res, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": profile.ID, "version": profile.Version},
			bson.M{
				"$set": bson.M{
					"email":            profile.Email,
					"name":             profile.Name,
					"purchase_history": profile.PurchaseHistory,
					"updated_at":       now,
				},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("update user: %w", err)
		}
		if res.MatchedCount == 0 {
			return domain.UserProfile{}, domain.ErrVersionConflict
		}
	}

	profile.Version++
	profile.UpdatedAt = now
	return profile, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
