package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

type attemptEnqueuer interface {
	EnqueueAttempt(ctx context.Context, id uuid.UUID, reason string) error
}

// Reconciler re-enqueues attempts whose due time passed without a worker
// running them, e.g. tasks lost with an in-memory queue or a crashed worker's lease.
type Reconciler struct {
	repo      messaging.Repository
	enqueuer  attemptEnqueuer
	logger    *logging.Logger
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func NewReconciler(repo messaging.Repository, enqueuer attemptEnqueuer, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		repo:      repo,
		enqueuer:  enqueuer,
		logger:    logger,
		interval:  time.Minute,
		grace:     2 * time.Minute,
		batchSize: 100,
		now:       time.Now,
	}
}

func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Reconciler) WithGrace(d time.Duration) *Reconciler {
	if d >= 0 {
		r.grace = d
	}
	return r
}

func (r *Reconciler) WithBatchSize(n int) *Reconciler {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain requeues one batch and returns how many messages it requeued.
func (r *Reconciler) drain(ctx context.Context) int {
	if r.repo == nil || r.enqueuer == nil {
		return 0
	}
	now := r.now()
	cutoff := now.Add(-r.grace)
	due, err := r.repo.ListDue(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("reconcile fetch failed", "error", err)
		return 0
	}
	requeued := 0
	for _, d := range due {
		var stillDue bool
		_, err := r.repo.MutateStatus(ctx, d.MessageID, func(st *messaging.Status) (bool, error) {
			stillDue = false
			if st.State.Terminal() || st.NextAttemptAt == nil || st.NextAttemptAt.After(cutoff) {
				return false, nil
			}
			stillDue = true
			next := now
			st.NextAttemptAt = &next
			return true, nil
		})
		if err != nil {
			r.logger.Error("reconcile mark failed", "error", err, "message_id", d.MessageID)
			continue
		}
		if !stillDue {
			continue
		}
		if err := r.enqueuer.EnqueueAttempt(ctx, d.MessageID, "reconcile"); err != nil {
			r.logger.Error("reconcile enqueue failed", "error", err, "message_id", d.MessageID)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		r.logger.Info("reconciled overdue deliveries", "requeued", requeued)
	}
	return requeued
}
