package service

import (
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/shopspring/decimal"
)

// Totals are derived from the line items the API returned, never accumulated.
type Totals struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Total        decimal.Decimal `json:"total"`
	ItemCount    int             `json:"item_count"`
}

// ComputeTotals sums server subtotals and quantities and adds shipping.
func ComputeTotals(items []orderapi.LineItem, shipping decimal.Decimal) Totals {
	subtotal := decimal.Zero
	count := 0
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal)
		count += it.Quantity
	}
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Total:        subtotal.Add(shipping),
		ItemCount:    count,
	}
}
