package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type userRepository struct {
	store *Store
	tx    bool
}

func (r *userRepository) Get(_ context.Context, id string) (domain.UserProfile, error) {
	defer r.store.read(r.tx)()

	profile, ok := r.store.state.users[id]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	profile.PurchaseHistory = append([]string(nil), profile.PurchaseHistory...)
	return profile, nil
}

// Save перезаписывает профиль, проверяя версию (optimistic locking).
func (r *userRepository) Save(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	defer r.store.write(r.tx)()

	current, exists := r.store.state.users[profile.ID]
	switch {
	case profile.Version == 0 && exists:
		return domain.UserProfile{}, domain.ErrVersionConflict
	case profile.Version != 0 && (!exists || current.Version != profile.Version):
		return domain.UserProfile{}, domain.ErrVersionConflict
	}

	profile.Version++
	profile.UpdatedAt = time.Now().UTC()
	profile.PurchaseHistory = append([]string(nil), profile.PurchaseHistory...)
	r.store.state.users[profile.ID] = profile
	return profile, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
