package console

import (
	"context"

	"github.com/kiwari-pos/console/internal/alert"
	"github.com/sirupsen/logrus"
)

// LogChannels renders alerts as log lines for the headless watch command.
type LogChannels struct {
	log logrus.FieldLogger
}

func NewLogChannels(log logrus.FieldLogger) *LogChannels {
	return &LogChannels{log: log.WithField("component", "watch")}
}

func (l *LogChannels) Play(context.Context) error {
	l.log.Info("alert sound on")
	return nil
}

func (l *LogChannels) Pause() { l.log.Debug("alert sound paused") }

func (l *LogChannels) Rewind() {}

func (l *LogChannels) Permission() bool { return true }

// Show logs a system notification.
func (l *LogChannels) Show(_ context.Context, n alert.Notification) error {
	l.log.WithField("order_id", n.OrderID).Infof("%s: %s", n.Title, n.Body)
	return nil
}

// Hide is a no-op: there is no banner.
func (l *LogChannels) Hide() {}

func (l *LogChannels) Reload() {}

// Banner returns the banner channel, whose Show differs from the notifier's.
func (l *LogChannels) Banner() alert.Banner { return logBanner{l.log} }

type logBanner struct{ log logrus.FieldLogger }

func (b logBanner) Show(_ context.Context, a alert.Alert) error {
	b.log.WithFields(logrus.Fields{
		"order_id": a.Order.ID,
		"customer": a.Order.CustomerName,
		"total":    a.Order.Total.StringFixed(2),
		"pickup":   a.Order.IsPickup(),
	}).Info("new order")
	return nil
}

func (b logBanner) Hide() {}
