package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the position of an outbound message in the delivery lifecycle.
type DeliveryState string

const (
	StatePending    DeliveryState = "pending"
	StateAttempting DeliveryState = "attempting"
	StateDelivered  DeliveryState = "delivered"
	StateFailed     DeliveryState = "failed"
	StateExhausted  DeliveryState = "exhausted"
)

// Terminal reports whether no further attempts may run.
func (s DeliveryState) Terminal() bool {
	switch s {
	case StateDelivered, StateFailed, StateExhausted:
		return true
	default:
		return false
	}
}

// Status is the persisted delivery progress of one outbound message.
// NextAttemptAt is when the next attempt is due; while an attempt is in
// flight it holds the lease expiry instead.
type Status struct {
	MessageID      uuid.UUID
	Attempts       int
	State          DeliveryState
	Delivered      bool
	LastStatusCode *int
	Error          string
	NextAttemptAt  *time.Time
	UpdatedAt      time.Time
}

// NewStatus returns the status every outbound message starts with.
func NewStatus(id uuid.UUID) Status {
	return Status{MessageID: id, State: StatePending}
}

// View is the read-path projection of a status.
func (s Status) View() StatusView {
	return StatusView{
		MessageID:      s.MessageID,
		Attempts:       s.Attempts,
		Delivered:      s.Delivered,
		LastStatusCode: s.LastStatusCode,
		Error:          s.Error,
		State:          s.State,
		NextAttemptAt:  s.NextAttemptAt,
	}
}

// StatusView is returned by status queries.
type StatusView struct {
	MessageID      uuid.UUID     `json:"message_id"`
	Attempts       int           `json:"attempts"`
	Delivered      bool          `json:"delivered"`
	LastStatusCode *int          `json:"last_status_code"`
	Error          string        `json:"error"`
	State          DeliveryState `json:"state"`
	NextAttemptAt  *time.Time    `json:"next_attempt_at,omitempty"`
}

// SendResult is what a provider answered for one delivery call.
// RetryAfter is the provider's hint in seconds, nil when absent.
type SendResult struct {
	StatusCode        int
	RetryAfter        *int
	ProviderMessageID string
}

// Gateway delivers a message through one provider. A returned error means no
// HTTP response was obtained (network failure or timeout).
type Gateway interface {
	Deliver(ctx context.Context, msg *Message) (SendResult, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, msg *Message) (SendResult, error)

func (f GatewayFunc) Deliver(ctx context.Context, msg *Message) (SendResult, error) {
	return f(ctx, msg)
}
