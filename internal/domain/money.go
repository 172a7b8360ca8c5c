package domain

import "github.com/shopspring/decimal"

var (
	// TaxRate ставка налога, применяемая к подытогу заказа.
	TaxRate = decimal.RequireFromString("0.10")
	// FlatShipping фиксированная стоимость доставки.
	FlatShipping = decimal.RequireFromString("10.00")
)

// Totals денежные итоги заказа, округлённые до копеек.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// RoundMoney округляет сумму до двух знаков.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ComputeTotals считает подытог, налог, доставку и итог по позициям корзины.
func ComputeTotals(items []CartItem) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	subtotal = RoundMoney(subtotal)
	tax := RoundMoney(subtotal.Mul(TaxRate))

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: FlatShipping,
		Total:    RoundMoney(subtotal.Add(tax).Add(FlatShipping)),
	}
}
