package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/mq"
)

// RoutingKey is the topic a notification is published under.
func RoutingKey(kind models.NotificationKind) string {
	return "notification." + string(kind)
}

// BrokerOutbox publishes notifications to RabbitMQ for the dispatch worker.
// Publishing happens in the background so a slow broker never delays the
// caller.
type BrokerOutbox struct {
	pub     mq.Publisher
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewBrokerOutbox(pub mq.Publisher, log logrus.FieldLogger) *BrokerOutbox {
	return &BrokerOutbox{pub: pub, timeout: 5 * time.Second, log: log}
}

// Enqueue implements service.Outbox.
func (o *BrokerOutbox) Enqueue(_ context.Context, ns []models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	batch := append([]models.Notification(nil), ns...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		for _, n := range batch {
			o.publish(ctx, n)
		}
	}()
	return nil
}

func (o *BrokerOutbox) publish(ctx context.Context, n models.Notification) {
	if err := o.pub.Publish(ctx, RoutingKey(n.Kind), n); err != nil {
		metrics.ObserveNotification(n.Kind, "dropped")
		o.log.WithError(err).WithFields(logrus.Fields{
			"request_id": n.RequestID,
			"recipient":  n.Recipient,
			"kind":       n.Kind,
		}).Error("failed to publish notification")
		return
	}
	metrics.ObserveNotification(n.Kind, "queued")
}
