package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiwari-pos/console/internal/alert"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

// Exchange receives one message per detected order.
const Exchange = "order_alerts"

// OrderAlertMessage is the body published for a new order.
type OrderAlertMessage struct {
	OrderID    int64           `json:"order_id"`
	Customer   string          `json:"customer"`
	Email      string          `json:"email,omitempty"`
	Total      decimal.Decimal `json:"total"`
	Pickup     bool            `json:"pickup"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Publisher fans detected orders out to the order_alerts exchange.
type Publisher struct {
	conn Connection
}

func NewPublisher(conn Connection) *Publisher {
	return &Publisher{conn: conn}
}

func (p *Publisher) Publish(ctx context.Context, a alert.Alert) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	o := a.Order
	body, err := json.Marshal(OrderAlertMessage{
		OrderID:    o.ID,
		Customer:   strings.TrimSpace(o.CustomerName + " " + o.CustomerLastName),
		Email:      o.Email,
		Total:      o.Total,
		Pickup:     o.IsPickup(),
		DetectedAt: a.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = ch.PublishWithContext(ctx, Exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    strconv.FormatInt(o.ID, 10),
		Timestamp:    a.DetectedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
