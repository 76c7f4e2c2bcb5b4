package ledger

import (
	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// SellingPrice derives a suggested selling price from a purchase price and a
// product margin rule. A zero purchase price always yields zero, whatever the
// margin; an unknown margin type passes the purchase price through.
func SellingPrice(purchasePrice decimal.Decimal, marginType string, marginValue decimal.Decimal) decimal.Decimal {
	if purchasePrice.IsZero() {
		return decimal.Zero
	}
	switch marginType {
	case domain.MarginFixed:
		return purchasePrice.Add(marginValue)
	case domain.MarginPercentage:
		return purchasePrice.Mul(oneHundred.Add(marginValue)).Div(oneHundred)
	default:
		return purchasePrice
	}
}
