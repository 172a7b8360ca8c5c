package domain

import "time"

// DefaultCustomerName подставляется, когда у пользователя нет профиля.
const DefaultCustomerName = "Valued Customer"

// Identity аутентифицированный вызывающий, выданный провайдером идентичности.
type Identity struct {
	UserID string
	Email  string
}

// UserProfile хранит данные покупателя и историю его заказов.
type UserProfile struct {
	ID              string
	Email           string
	Name            string
	PurchaseHistory []string
	// Version используется для optimistic locking.
	Version   int64
	UpdatedAt time.Time
}

// AppendPurchase добавляет заказ в историю, если его там ещё нет.
// Возвращает false, когда заказ уже записан.
func (u *UserProfile) AppendPurchase(orderID string) bool {
	for _, id := range u.PurchaseHistory {
		if id == orderID {
			return false
		}
	}
	u.PurchaseHistory = append(u.PurchaseHistory, orderID)
	return true
}
