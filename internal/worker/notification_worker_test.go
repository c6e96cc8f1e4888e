package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/notify"
)

type ackRecorder struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked = true; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

type stubDeliverer struct {
	err  error
	seen []models.Notification
}

func (s *stubDeliverer) Dispatch(_ context.Context, n models.Notification) error {
	s.seen = append(s.seen, n)
	return s.err
}

type stubConsumer struct {
	handler func(amqp091.Delivery)
	closed  bool
}

func (c *stubConsumer) Consume(h func(amqp091.Delivery)) error { c.handler = h; return nil }
func (c *stubConsumer) Close() error                           { c.closed = true; return nil }

func delivery(t *testing.T, body any, redelivered bool) (amqp091.Delivery, *ackRecorder) {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	ack := &ackRecorder{}
	return amqp091.Delivery{Acknowledger: ack, Body: raw, Redelivered: redelivered, RoutingKey: "notification.created"}, ack
}

func newWorker(d notify.Deliverer) *NotificationWorker {
	log, _ := test.NewNullLogger()
	return NewNotificationWorker(&stubConsumer{}, d, log)
}

var sample = models.Notification{RequestID: "REQ-1", Recipient: "alice", Kind: models.NotifyCreated, Facility: "F1"}

func TestHandleAcksDelivered(t *testing.T) {
	d := &stubDeliverer{}
	msg, ack := delivery(t, sample, false)

	newWorker(d).handle(context.Background(), msg)

	assert.True(t, ack.acked)
	require.Len(t, d.seen, 1)
	assert.Equal(t, "alice", d.seen[0].Recipient)
}

func TestHandleDiscardsMalformed(t *testing.T) {
	d := &stubDeliverer{}
	for _, body := range [][]byte{[]byte("not json"), []byte(`{"request_id":"REQ-1"}`)} {
		msg, ack := delivery(t, body, false)
		newWorker(d).handle(context.Background(), msg)
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeued)
	}
	assert.Empty(t, d.seen)
}

func TestHandleRequeuesOnce(t *testing.T) {
	d := &stubDeliverer{err: stderrors.New("smtp timeout")}

	first, ack := delivery(t, sample, false)
	newWorker(d).handle(context.Background(), first)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)

	second, ack := delivery(t, sample, true)
	newWorker(d).handle(context.Background(), second)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestHandleDropsUndeliverable(t *testing.T) {
	d := &stubDeliverer{err: errors.Wrap(notify.ErrNoRecipient, "user ghost")}
	msg, ack := delivery(t, sample, false)

	newWorker(d).handle(context.Background(), msg)

	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestRunClosesConsumerOnShutdown(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := &stubConsumer{}
	w := NewNotificationWorker(c, &stubDeliverer{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.NotNil(t, c.handler)
	assert.True(t, c.closed)
}
