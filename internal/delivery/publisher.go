package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/observability/metrics"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// Publisher enqueues delivery attempt tasks for asynchronous processing.
type Publisher struct {
	queue   Queue
	metrics *metrics.DeliveryMetrics
	now     func() time.Time
	logger  *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, dm *metrics.DeliveryMetrics, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("delivery: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:   queue,
		metrics: dm,
		now:     time.Now,
		logger:  logger,
	}
}

// ScheduleRetry enqueues one attempt that runs no earlier than delay from now.
func (p *Publisher) ScheduleRetry(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	if err := p.enqueue(ctx, id, delay, "retry"); err != nil {
		return err
	}
	p.metrics.ObserveRetryDelay(delay.Seconds())
	return nil
}

// EnqueueAttempt enqueues an attempt to run as soon as a worker picks it up.
func (p *Publisher) EnqueueAttempt(ctx context.Context, id uuid.UUID, reason string) error {
	return p.enqueue(ctx, id, 0, reason)
}

func (p *Publisher) enqueue(ctx context.Context, id uuid.UUID, delay time.Duration, reason string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if delay < 0 {
		delay = 0
	}
	now := p.now().UTC()
	task, body, err := encodeTask(attemptTask{
		MessageID:  id,
		NotBefore:  now.Add(delay),
		EnqueuedAt: now,
	})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body, delay); err != nil {
		return fmt.Errorf("delivery: failed to enqueue attempt: %w", err)
	}
	p.metrics.ObserveEnqueued(reason)
	p.logger.Debug("delivery attempt enqueued", "task_id", task.ID, "message_id", id, "delay", delay, "reason", reason)
	return nil
}

// redefer re-sends a task that arrived before it was due.
func (p *Publisher) redefer(ctx context.Context, task attemptTask, delay time.Duration) error {
	_, body, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body, delay); err != nil {
		return fmt.Errorf("delivery: failed to re-defer task: %w", err)
	}
	return nil
}
