package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Worker consumes delivery tasks from the queue and runs attempts.
type Worker struct {
	machine   Attempter
	queue     Queue
	publisher *Publisher
	logger    *logging.Logger
	now       func() time.Time

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	skew             time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker creates a worker. publisher is used to re-defer early tasks and
// must share the worker's queue.
func NewWorker(machine Attempter, queue Queue, publisher *Publisher, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if machine == nil {
		panic("delivery: machine cannot be nil")
	}
	if queue == nil {
		panic("delivery: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if publisher == nil {
		publisher = NewPublisher(queue, nil, logger)
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		skew:             defaultClockSkew,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		machine:   machine,
		queue:     queue,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines. They exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("delivery worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("delivery worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive delivery tasks", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	task, err := decodeTask(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable delivery task", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if wait := task.NotBefore.Sub(w.now()); wait > w.cfg.skew {
		if err := w.publisher.redefer(ctx, task, wait); err != nil {
			w.logger.Error("failed to re-defer early delivery task", "error", err, "task_id", task.ID, "message_id", task.MessageID)
			return
		}
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	res, err := w.attempt(ctx, task)
	if err != nil {
		if permanentAttemptError(err) {
			w.logger.Warn("dropping delivery task", "error", err, "task_id", task.ID, "message_id", task.MessageID)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		// Left on the queue for redelivery.
		w.logger.Error("delivery attempt failed", "error", err, "task_id", task.ID, "message_id", task.MessageID)
		return
	}

	w.logger.Debug("delivery task processed",
		"task_id", task.ID,
		"message_id", task.MessageID,
		"state", res.Status.State,
		"attempts", res.Status.Attempts,
		"skip", res.Skip,
	)
	w.deleteMessage(msg.ReceiptHandle)
}

// attempt runs detached from worker shutdown: once received, a task finishes
// its provider call and records the outcome. The machine's provider timeout
// bounds how long shutdown waits.
func (w *Worker) attempt(ctx context.Context, task attemptTask) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery: attempt panic: %v", r)
		}
	}()
	return w.machine.Attempt(context.WithoutCancel(ctx), task.MessageID)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete delivery task", "error", err)
	}
}
