package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type userRepository struct {
	q queryer
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		profile domain.UserProfile
		history []byte
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, email, name, purchase_history, version, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&profile.ID, &profile.Email, &profile.Name, &history, &profile.Version, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrUserNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("select user: %w", err)
	}
	if err := json.Unmarshal(history, &profile.PurchaseHistory); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode purchase history: %w", err)
	}
	profile.UpdatedAt = profile.UpdatedAt.UTC()
	return profile, nil
}

// Save вставляет профиль с версией 1 или обновляет его по совпадению версии.
func (r *userRepository) Save(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if profile.PurchaseHistory == nil {
		profile.PurchaseHistory = []string{}
	}
	history, err := json.Marshal(profile.PurchaseHistory)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("encode purchase history: %w", err)
	}
	now := time.Now().UTC()

	if profile.Version == 0 {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO users (id, email, name, purchase_history, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
		`, profile.ID, profile.Email, profile.Name, history, now)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.UserProfile{}, domain.ErrVersionConflict
			}
			return domain.UserProfile{}, fmt.Errorf("insert user: %w", err)
		}
	} else {
		res, err := r.q.ExecContext(ctx, `
			UPDATE users
			SET email = $3,
			    name = $4,
			    purchase_history = $5,
			    version = version + 1,
			    updated_at = $6
			WHERE id = $1 AND version = $2
		`, profile.ID, profile.Version, profile.Email, profile.Name, history, now)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("update user: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("rows affected for user: %w", err)
		}
		if affected == 0 {
			return domain.UserProfile{}, domain.ErrVersionConflict
		}
	}

	profile.Version++
	profile.UpdatedAt = now
	return profile, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
