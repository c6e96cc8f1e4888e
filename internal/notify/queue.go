package notify

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
)

// QueueConfig tunes the in-process outbox.
type QueueConfig struct {
	Size        int
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Queue is an in-process outbox: a bounded buffer drained by a fixed number
// of workers. Enqueue never blocks; when the buffer is full the notification
// is dropped and counted.
type Queue struct {
	cfg     QueueConfig
	deliver Deliverer
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	jobs   chan models.Notification
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewQueue(deliver Deliverer, cfg QueueConfig, log logrus.FieldLogger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:     cfg,
		deliver: deliver,
		log:     log,
		jobs:    make(chan models.Notification, cfg.Size),
	}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for n := range q.jobs {
				q.process(ctx, n)
			}
		}()
	}
}

// Stop refuses further notifications, drains what is buffered and waits for
// the workers. Pending retries are abandoned once ctx is done.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.log.Warn("notification queue stop timed out")
	}
	if q.cancel != nil {
		q.cancel()
	}
}

// Enqueue implements service.Outbox.
func (q *Queue) Enqueue(_ context.Context, ns []models.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, n := range ns {
		if q.closed {
			q.drop(n, "queue closed")
			continue
		}
		select {
		case q.jobs <- n:
			metrics.ObserveNotification(n.Kind, "queued")
		default:
			q.drop(n, "queue full")
		}
	}
	return nil
}

func (q *Queue) drop(n models.Notification, reason string) {
	metrics.ObserveNotification(n.Kind, "dropped")
	q.log.WithFields(logrus.Fields{
		"request_id": n.RequestID,
		"recipient":  n.Recipient,
		"kind":       n.Kind,
	}).Warn("notification dropped: " + reason)
}

func (q *Queue) process(ctx context.Context, n models.Notification) {
	entry := q.log.WithFields(logrus.Fields{
		"request_id": n.RequestID,
		"recipient":  n.Recipient,
		"kind":       n.Kind,
	})
	for attempt := 1; ; attempt++ {
		err := q.deliver.Dispatch(ctx, n)
		if err == nil {
			return
		}
		if stderrors.Is(err, ErrNoRecipient) || attempt >= q.cfg.MaxAttempts {
			metrics.ObserveNotification(n.Kind, "failed")
			entry.WithError(err).WithField("attempts", attempt).Error("notification delivery failed")
			return
		}
		metrics.ObserveNotification(n.Kind, "retried")
		wait := Backoff(attempt, q.cfg.BaseBackoff, q.cfg.MaxBackoff)
		entry.WithError(err).WithField("retry_in", wait).Warn("notification delivery failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			metrics.ObserveNotification(n.Kind, "failed")
			entry.Warn("notification abandoned on shutdown")
			return
		}
	}
}

// Backoff returns base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Discard is an outbox that drops everything. Used when notifications are
// switched off.
type Discard struct{}

func (Discard) Enqueue(context.Context, []models.Notification) error { return nil }
