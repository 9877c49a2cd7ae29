package order

import "github.com/shopspring/decimal"

// Item is an order line with its precomputed subtotal.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ItemInput is an order line as supplied by a command, before the subtotal is
// derived.
type ItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

func buildItem(in ItemInput) Item {
	return Item{
		ProductID:   in.ProductID,
		ProductName: in.ProductName,
		Quantity:    in.Quantity,
		Price:       in.Price,
		Subtotal:    in.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
	}
}
