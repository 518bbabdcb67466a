package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue carries attempt tasks between the publisher and workers.
type Queue interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// attemptTask asks a worker to run one delivery attempt for a message no
// earlier than NotBefore.
type attemptTask struct {
	ID         string    `json:"id"`
	MessageID  uuid.UUID `json:"message_id"`
	NotBefore  time.Time `json:"not_before"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeTask(task attemptTask) (attemptTask, string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return attemptTask{}, "", fmt.Errorf("delivery: failed to encode task: %w", err)
	}
	return task, string(body), nil
}

func decodeTask(body string) (attemptTask, error) {
	var task attemptTask
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return attemptTask{}, fmt.Errorf("delivery: failed to decode task: %w", err)
	}
	if task.MessageID == uuid.Nil {
		return attemptTask{}, fmt.Errorf("delivery: task %q has no message id", task.ID)
	}
	return task, nil
}
