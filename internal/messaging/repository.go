package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
)

var (
	// ErrMessageNotFound is returned when no message has the given ID.
	ErrMessageNotFound = errors.New("messaging: message not found")
	// ErrInboundMessage is returned for status operations on inbound messages.
	ErrInboundMessage = errors.New("messaging: message is inbound and has no delivery status")
)

// StatusMutation edits a status in place. Returning false leaves the stored row untouched.
type StatusMutation func(st *Status) (bool, error)

// DueAttempt is an outbound message whose next attempt time has passed.
type DueAttempt struct {
	MessageID     uuid.UUID
	State         DeliveryState
	NextAttemptAt *time.Time
}

// Repository persists messages and their delivery status.
type Repository interface {
	// CreateMessage stores a message, its attachments and, for outbound
	// messages, its initial status in one transaction.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	GetStatus(ctx context.Context, id uuid.UUID) (Status, error)
	// MutateStatus applies fn under a per-message lock and persists the result.
	MutateStatus(ctx context.Context, id uuid.UUID, fn StatusMutation) (Status, error)
	// ListDue returns non-terminal statuses due at or before cutoff, oldest first.
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]DueAttempt, error)
	ListMessages(ctx context.Context, conversationID int64, page conversation.Page) ([]*Message, int, error)
}

// MessageListing is one page of a conversation's messages.
type MessageListing struct {
	ConversationID int64      `json:"conversation_id"`
	Messages       []*Message `json:"messages"`
	Total          int        `json:"total"`
	Page           int        `json:"page"`
	PageSize       int        `json:"page_size"`
}
