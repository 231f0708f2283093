package enum

import "strings"

// ── Order status (owned by the back-office API) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusInProcess = "in_process"
	OrderStatusConfirmed = "confirmed"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// ── Console roles (JWT claim) ──

const (
	RoleOwner   = "OWNER"
	RoleAdmin   = "ADMIN"
	RoleService = "SERVICE"
)

// ── Email templates served by the API ──

const (
	EmailOrderConfirmed = "confirmed"
	EmailOrderInTransit = "in_transit"
	EmailOrderPickup    = "pickup"
)

// PickupAddress is the delivery address the storefront writes for in-store pickup.
const PickupAddress = "Retiro en local"

// IsPickupAddress reports whether addr is the pickup sentinel.
func IsPickupAddress(addr string) bool {
	return strings.EqualFold(strings.TrimSpace(addr), PickupAddress)
}

// IsModifiableStatus reports whether line items and confirmation may still change.
func IsModifiableStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusInProcess, OrderStatusConfirmed:
		return true
	}
	return false
}

// IsTerminalStatus reports whether no further transition is possible.
func IsTerminalStatus(s string) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}
