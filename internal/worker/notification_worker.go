package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/mq"
	"github.com/example/helpdesk/internal/notify"
)

// NotificationWorker consumes published notifications and delivers them.
// A delivery that fails is requeued once; a redelivered message that fails
// again is dropped.
type NotificationWorker struct {
	id       string
	consumer mq.Consumer
	deliver  notify.Deliverer
	timeout  time.Duration
	log      logrus.FieldLogger
}

// NewNotificationWorker creates the worker with random identifier.
func NewNotificationWorker(consumer mq.Consumer, deliver notify.Deliverer, log logrus.FieldLogger) *NotificationWorker {
	id := uuid.New().String()
	return &NotificationWorker{
		id:       id,
		consumer: consumer,
		deliver:  deliver,
		timeout:  30 * time.Second,
		log:      log.WithField("worker", id),
	}
}

// Run consumes until ctx is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) error {
	if err := w.consumer.Consume(func(d amqp091.Delivery) { w.handle(ctx, d) }); err != nil {
		return err
	}
	w.log.Info("notification worker started")
	<-ctx.Done()
	w.log.Info("notification worker shutting down")
	return w.consumer.Close()
}

func (w *NotificationWorker) handle(ctx context.Context, d amqp091.Delivery) {
	var n models.Notification
	if err := json.Unmarshal(d.Body, &n); err != nil || n.Recipient == "" || n.Kind == "" {
		w.log.WithField("routing_key", d.RoutingKey).Warn("discarding malformed notification")
		_ = d.Nack(false, false)
		return
	}
	entry := w.log.WithFields(logrus.Fields{
		"request_id": n.RequestID,
		"recipient":  n.Recipient,
		"kind":       n.Kind,
	})

	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	err := w.deliver.Dispatch(dctx, n)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case stderrors.Is(err, notify.ErrNoRecipient), d.Redelivered:
		metrics.ObserveNotification(n.Kind, "failed")
		entry.WithError(err).Error("notification delivery failed")
		_ = d.Nack(false, false)
	default:
		metrics.ObserveNotification(n.Kind, "retried")
		entry.WithError(err).Warn("notification delivery failed, requeueing")
		_ = d.Nack(false, true)
	}
}
