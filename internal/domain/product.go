package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product запись каталога, из которой копируются поля позиции корзины.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Image     string
	Stock     int
	UpdatedAt time.Time
}
