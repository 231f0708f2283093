package orderapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiwari-pos/console/internal/enum"
	"github.com/shopspring/decimal"
)

// Order is the header of a storefront order as served by the back-office API.
type Order struct {
	ID               int64           `json:"id"`
	CustomerName     string          `json:"name"`
	CustomerLastName string          `json:"last_name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	Address          string          `json:"address"`
	Status           string          `json:"status"`
	Total            decimal.Decimal `json:"total"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	ItemCount        int             `json:"item_count"`
	Notes            string          `json:"notes"`
	CreatedAt        Timestamp       `json:"created_at"`
}

// IsPickup reports whether the customer collects the order in store.
func (o Order) IsPickup() bool {
	return enum.IsPickupAddress(o.Address)
}

// LineItem is one product row of an order. Subtotal is computed by the API.
type LineItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Product is a catalog entry offered for addition to an order.
type Product struct {
	Code  string          `json:"code"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type AddItemRequest struct {
	OrderID     int64           `json:"order_id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// UpdateItemRequest deliberately has no subtotal field.
type UpdateItemRequest struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type StatusUpdate struct {
	Status      string `json:"status"`
	WindowStart string `json:"delivery_window_start,omitempty"`
	WindowEnd   string `json:"delivery_window_end,omitempty"`
}

// StoreInfo identifies the store in customer emails.
type StoreInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type EmailPayload struct {
	Order        Order           `json:"order"`
	Items        []LineItem      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Total        decimal.Decimal `json:"total"`
	Store        StoreInfo       `json:"store"`
	WindowStart  string          `json:"delivery_window_start,omitempty"`
	WindowEnd    string          `json:"delivery_window_end,omitempty"`
}

// PendingCheck is the answer to "is there an order newer than since_id".
type PendingCheck struct {
	NewOrder bool   `json:"new_order"`
	Order    *Order `json:"order,omitempty"`
}

// Timestamp accepts the date layouts the API has been seen to emit.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized layout %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}
