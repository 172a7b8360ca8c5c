package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem позиция корзины. Не адресуется отдельно от корзины.
type CartItem struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Image     string
	Quantity  int
}

// Cart корзина пользователя. Одна на пользователя, создаётся при первой записи.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItem возвращает индекс позиции с товаром productID или -1.
func (c Cart) FindItem(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// CloneItems возвращает независимую копию позиций.
func (c Cart) CloneItems() []CartItem {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return items
}
