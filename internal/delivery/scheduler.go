package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// Scheduler decides when attempts run: the first inline with the request,
// later ones through the queue. Mutual exclusion is left to the Machine.
type Scheduler struct {
	machine   Attempter
	publisher *Publisher
	logger    *logging.Logger
}

func NewScheduler(machine Attempter, publisher *Publisher, logger *logging.Logger) *Scheduler {
	if machine == nil {
		panic("delivery: machine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{machine: machine, publisher: publisher, logger: logger}
}

var _ messaging.FirstAttemptScheduler = (*Scheduler)(nil)

// ScheduleFirstAttempt runs the first attempt synchronously. The attempt is
// detached from ctx cancellation so a dropped client cannot leave it half
// recorded. When storage fails the attempt is queued instead.
func (s *Scheduler) ScheduleFirstAttempt(ctx context.Context, id uuid.UUID) error {
	ctx = context.WithoutCancel(ctx)
	res, err := s.machine.Attempt(ctx, id)
	if err == nil {
		s.logger.Debug("first delivery attempt done", "message_id", id, "state", res.Status.State, "skip", res.Skip)
		return nil
	}
	if permanentAttemptError(err) || s.publisher == nil {
		return err
	}
	s.logger.Warn("first delivery attempt failed; queueing", "message_id", id, "error", err)
	if qerr := s.publisher.EnqueueAttempt(ctx, id, "first_attempt_fallback"); qerr != nil {
		return fmt.Errorf("delivery: first attempt not run: %w", errors.Join(err, qerr))
	}
	return nil
}

// ScheduleRetry enqueues an attempt to run after delay.
func (s *Scheduler) ScheduleRetry(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	if s.publisher == nil {
		return errors.New("delivery: no publisher configured")
	}
	return s.publisher.ScheduleRetry(ctx, id, delay)
}

// permanentAttemptError reports errors that retrying the same attempt cannot fix.
func permanentAttemptError(err error) bool {
	var unsupported *messaging.UnsupportedChannelError
	return errors.As(err, &unsupported) ||
		errors.Is(err, messaging.ErrMessageNotFound) ||
		errors.Is(err, messaging.ErrInboundMessage)
}
