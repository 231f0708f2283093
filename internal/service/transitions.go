package service

import (
	"fmt"
	"time"

	"github.com/kiwari-pos/console/internal/enum"
	"github.com/kiwari-pos/console/internal/orderapi"
)

const windowLayout = "15:04"

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusInProcess: {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed: {enum.OrderStatusConfirmed, enum.OrderStatusDelivered, enum.OrderStatusCancelled},
}

// validateStatusTransition checks if the transition from current to next is allowed.
func validateStatusTransition(current, next string) error {
	for _, s := range allowedTransitions[current] {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, current, next)
}

// DeliveryWindow is the time range promised to a delivery customer.
type DeliveryWindow struct {
	Start time.Time
	End   time.Time
}

// ParseWindow reads "HH:MM" (or RFC3339) bounds. Both empty yields nil.
func ParseWindow(start, end string) (*DeliveryWindow, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := parseWindowBound(start)
	if err != nil {
		return nil, fmt.Errorf("%w: start %q", ErrInvalidWindow, start)
	}
	e, err := parseWindowBound(end)
	if err != nil {
		return nil, fmt.Errorf("%w: end %q", ErrInvalidWindow, end)
	}
	return &DeliveryWindow{Start: s, End: e}, nil
}

func parseWindowBound(v string) (time.Time, error) {
	if t, err := time.Parse(windowLayout, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// checkWindow validates the window for the order's fulfilment type and returns
// the payload bounds. Pickup orders never carry a window.
func checkWindow(order *orderapi.Order, w *DeliveryWindow) (string, string, error) {
	if order.IsPickup() {
		return "", "", nil
	}
	if w == nil || w.Start.IsZero() || w.End.IsZero() {
		return "", "", ErrWindowRequired
	}
	if !w.Start.Before(w.End) {
		return "", "", ErrInvalidWindow
	}
	return w.Start.Format(windowLayout), w.End.Format(windowLayout), nil
}
