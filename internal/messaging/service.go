package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// ConversationResolver is the part of conversation.Registry the service needs.
type ConversationResolver interface {
	Resolve(ctx context.Context, addressA, addressB string) (conversation.Conversation, error)
	Get(ctx context.Context, id int64) (conversation.Conversation, error)
	List(ctx context.Context, page conversation.Page) (conversation.Listing, error)
}

// FirstAttemptScheduler runs the first delivery attempt of a new outbound message.
type FirstAttemptScheduler interface {
	ScheduleFirstAttempt(ctx context.Context, id uuid.UUID) error
}

// ValidationError rejects a malformed create request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("messaging: invalid %s: %s", e.Field, e.Reason)
}

// CreateRequest describes a message to persist.
type CreateRequest struct {
	From              string
	To                string
	Channel           Channel
	Body              string
	Timestamp         time.Time
	ProviderMessageID string
	AttachmentURLs    []string
	Extra             map[string]any
}

func (r CreateRequest) validate() error {
	if _, err := ParseChannel(string(r.Channel)); err != nil {
		return err
	}
	if strings.TrimSpace(r.From) == "" {
		return &ValidationError{Field: "from", Reason: "required"}
	}
	if strings.TrimSpace(r.To) == "" {
		return &ValidationError{Field: "to", Reason: "required"}
	}
	if strings.TrimSpace(r.Body) == "" && len(r.AttachmentURLs) == 0 {
		return &ValidationError{Field: "body", Reason: "required"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	for _, u := range r.AttachmentURLs {
		if strings.TrimSpace(u) == "" {
			return &ValidationError{Field: "attachments", Reason: "empty url"}
		}
	}
	return nil
}

// ChannelSupport reports whether outbound delivery is available for a channel.
type ChannelSupport interface {
	SupportsChannel(channel Channel) bool
}

// Service is the write and read path for messages.
type Service struct {
	conversations ConversationResolver
	repo          Repository
	scheduler     FirstAttemptScheduler
	channels      ChannelSupport
	logger        *logging.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithChannelSupport rejects outbound messages on channels without a gateway
// before anything is stored.
func WithChannelSupport(c ChannelSupport) ServiceOption {
	return func(s *Service) {
		s.channels = c
	}
}

// NewService wires the message service. scheduler may be nil when outbound
// delivery is handled elsewhere.
func NewService(conversations ConversationResolver, repo Repository, scheduler FirstAttemptScheduler, logger *logging.Logger, opts ...ServiceOption) *Service {
	if conversations == nil {
		panic("messaging: conversation resolver cannot be nil")
	}
	if repo == nil {
		panic("messaging: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		conversations: conversations,
		repo:          repo,
		scheduler:     scheduler,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOutbound persists an outbound message with a fresh status and runs the
// first delivery attempt before returning. Delivery failures are only visible
// through the returned status; they are never returned as errors.
func (s *Service) CreateOutbound(ctx context.Context, req CreateRequest) (*Message, error) {
	msg, err := s.persist(ctx, req, func(id uuid.UUID) Direction {
		return Outbound{Status: NewStatus(id)}
	}, s.requireGateway)
	if err != nil {
		return nil, err
	}
	s.logger.Info("outbound message accepted", "message_id", msg.ID, "channel", msg.Channel, "conversation_id", msg.ConversationID)

	if s.scheduler == nil {
		return msg, nil
	}
	if err := s.scheduler.ScheduleFirstAttempt(ctx, msg.ID); err != nil {
		s.logger.Error("first delivery attempt could not run", "message_id", msg.ID, "error", err)
		return msg, nil
	}

	current, err := s.repo.GetMessage(ctx, msg.ID)
	if err != nil {
		s.logger.Warn("reload after first attempt failed", "message_id", msg.ID, "error", err)
		return msg, nil
	}
	return current, nil
}

// CreateInbound persists a message received from a provider. It never enters
// the delivery pipeline.
func (s *Service) CreateInbound(ctx context.Context, req CreateRequest) (*Message, error) {
	msg, err := s.persist(ctx, req, func(uuid.UUID) Direction { return Inbound{} }, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("inbound message stored", "message_id", msg.ID, "channel", msg.Channel, "conversation_id", msg.ConversationID)
	return msg, nil
}

func (s *Service) persist(ctx context.Context, req CreateRequest, direction func(uuid.UUID) Direction, check func(Channel) error) (*Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	channel, _ := ParseChannel(string(req.Channel))
	if check != nil {
		if err := check(channel); err != nil {
			return nil, err
		}
	}
	fromAddr, err := normalizeAddress(channel, "from", req.From)
	if err != nil {
		return nil, err
	}
	toAddr, err := normalizeAddress(channel, "to", req.To)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversations.Resolve(ctx, fromAddr, toAddr)
	if err != nil {
		return nil, err
	}
	from, to := conv.Low, conv.High
	if from.Address != fromAddr {
		from, to = to, from
	}

	msg := &Message{
		ID:                uuid.New(),
		ConversationID:    conv.ID,
		From:              from,
		To:                to,
		Body:              req.Body,
		Timestamp:         req.Timestamp.UTC(),
		Channel:           channel,
		ProviderMessageID: strings.TrimSpace(req.ProviderMessageID),
		Extra:             req.Extra,
	}
	for _, u := range req.AttachmentURLs {
		msg.Attachments = append(msg.Attachments, Attachment{URL: strings.TrimSpace(u)})
	}
	msg.Direction = direction(msg.ID)

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) requireGateway(channel Channel) error {
	if s.channels == nil || s.channels.SupportsChannel(channel) {
		return nil
	}
	return &UnsupportedChannelError{Channel: string(channel)}
}

// GetStatus returns the delivery status of an outbound message.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (StatusView, error) {
	st, err := s.repo.GetStatus(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return st.View(), nil
}

// GetMessage returns a single message.
func (s *Service) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.repo.GetMessage(ctx, id)
}

// ListConversations returns one page of conversations.
func (s *Service) ListConversations(ctx context.Context, page conversation.Page) (conversation.Listing, error) {
	return s.conversations.List(ctx, page)
}

// ListMessages returns one page of a conversation's messages in timestamp order.
func (s *Service) ListMessages(ctx context.Context, conversationID int64, page conversation.Page) (MessageListing, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return MessageListing{}, err
	}
	page = page.Normalize()
	msgs, total, err := s.repo.ListMessages(ctx, conversationID, page)
	if err != nil {
		return MessageListing{}, err
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return MessageListing{
		ConversationID: conversationID,
		Messages:       msgs,
		Total:          total,
		Page:           page.Number,
		PageSize:       page.Size,
	}, nil
}
