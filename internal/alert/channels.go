package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiwari-pos/console/internal/orderapi"
)

// Alert is the record raised when a new order is detected.
type Alert struct {
	Order      orderapi.Order `json:"order"`
	DetectedAt time.Time      `json:"detected_at"`
}

func (a Alert) OrderID() int64 { return a.Order.ID }

// Notification is the one-shot system notification shown for an alert.
type Notification struct {
	OrderID int64  `json:"order_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// NotificationFor renders the system notification for a.
func NotificationFor(a Alert) Notification {
	o := a.Order
	name := strings.TrimSpace(o.CustomerName + " " + o.CustomerLastName)
	if name == "" {
		name = "Unknown customer"
	}
	body := fmt.Sprintf("%s: $%s", name, o.Total.StringFixed(2))
	if o.IsPickup() {
		body += " (pickup)"
	}
	return Notification{
		OrderID: o.ID,
		Title:   fmt.Sprintf("New order #%d", o.ID),
		Body:    body,
	}
}

// Checker asks the order API whether an order newer than sinceID exists.
// Satisfied by *orderapi.Client.
type Checker interface {
	CheckNewOrders(ctx context.Context, sinceID int64) (*orderapi.PendingCheck, error)
}

// Sound is the looping alert cue. Pause and Rewind must be safe to call when
// nothing is playing.
type Sound interface {
	Play(ctx context.Context) error
	Pause()
	Rewind()
}

// SystemNotifier shows OS-level notifications, only when the user granted
// permission earlier.
type SystemNotifier interface {
	Permission() bool
	Show(ctx context.Context, n Notification) error
}

// Banner is the visual alert that stays up until dismissed.
type Banner interface {
	Show(ctx context.Context, a Alert) error
	Hide()
}

// Reloader resynchronizes every view that lists orders.
type Reloader interface {
	Reload()
}

// Publisher forwards detected orders to other subscribers.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

type nopSound struct{}

func (nopSound) Play(context.Context) error { return nil }
func (nopSound) Pause()                     {}
func (nopSound) Rewind()                    {}

type nopNotifier struct{}

func (nopNotifier) Permission() bool                          { return false }
func (nopNotifier) Show(context.Context, Notification) error { return nil }

type nopBanner struct{}

func (nopBanner) Show(context.Context, Alert) error { return nil }
func (nopBanner) Hide()                             {}

type nopReloader struct{}

func (nopReloader) Reload() {}
