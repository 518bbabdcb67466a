package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

const maxRequestBytes = 1 << 20

// MessagingService is the write and read path the HTTP API drives.
type MessagingService interface {
	CreateOutbound(ctx context.Context, req messaging.CreateRequest) (*messaging.Message, error)
	CreateInbound(ctx context.Context, req messaging.CreateRequest) (*messaging.Message, error)
	GetStatus(ctx context.Context, id uuid.UUID) (messaging.StatusView, error)
	ListConversations(ctx context.Context, page conversation.Page) (conversation.Listing, error)
	ListMessages(ctx context.Context, conversationID int64, page conversation.Page) (messaging.MessageListing, error)
}

// WebhookVerifier checks provider webhook signatures.
type WebhookVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

// MessagesHandler serves the message, webhook and conversation endpoints.
type MessagesHandler struct {
	service  MessagingService
	validate *validator.Validate
	verifier WebhookVerifier
	logger   *logging.Logger
}

// MessagesOption customizes a MessagesHandler.
type MessagesOption func(*MessagesHandler)

// WithSMSWebhookVerifier requires valid Telnyx-style signatures on the inbound
// SMS webhook.
func WithSMSWebhookVerifier(v WebhookVerifier) MessagesOption {
	return func(h *MessagesHandler) {
		h.verifier = v
	}
}

func NewMessagesHandler(service MessagingService, validate *validator.Validate, logger *logging.Logger, opts ...MessagesOption) *MessagesHandler {
	if service == nil {
		panic("handlers: messaging service cannot be nil")
	}
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(jsonFieldName)
	if logger == nil {
		logger = logging.Default()
	}
	h := &MessagesHandler{
		service:  service,
		validate: validate,
		logger:   logger.With("handler", "messages"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// messageRequest is the body shared by the send and webhook endpoints. Keys
// outside the known set are kept as message extras.
type messageRequest struct {
	From                string   `json:"from" validate:"required"`
	To                  string   `json:"to" validate:"required"`
	Type                string   `json:"type"`
	Body                string   `json:"body"`
	Timestamp           string   `json:"timestamp" validate:"required"`
	MessagingProviderID string   `json:"messaging_provider_id"`
	Attachments         []string `json:"attachments" validate:"omitempty,dive,required"`
}

var knownRequestKeys = map[string]bool{
	"from": true, "to": true, "type": true, "body": true, "timestamp": true,
	"messaging_provider_id": true, "attachments": true,
}

type messageResponse struct {
	ID                  uuid.UUID             `json:"id"`
	ConversationID      int64                 `json:"conversation_id"`
	From                string                `json:"from"`
	To                  string                `json:"to"`
	Type                messaging.Channel     `json:"type"`
	Body                string                `json:"body"`
	Attachments         []string              `json:"attachments"`
	Timestamp           time.Time             `json:"timestamp"`
	MessagingProviderID string                `json:"messaging_provider_id,omitempty"`
	Direction           string                `json:"direction"`
	Extra               map[string]any        `json:"extra,omitempty"`
	Status              *messaging.StatusView `json:"status,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
}

func toMessageResponse(msg *messaging.Message) messageResponse {
	resp := messageResponse{
		ID:                  msg.ID,
		ConversationID:      msg.ConversationID,
		From:                msg.From.Address,
		To:                  msg.To.Address,
		Type:                msg.Channel,
		Body:                msg.Body,
		Attachments:         msg.AttachmentURLs(),
		Timestamp:           msg.Timestamp,
		MessagingProviderID: msg.ProviderMessageID,
		Direction:           messaging.DirectionName(msg.Direction),
		Extra:               msg.Extra,
		CreatedAt:           msg.CreatedAt,
	}
	if st, ok := msg.OutboundStatus(); ok {
		view := st.View()
		resp.Status = &view
	}
	return resp
}

type messageListingResponse struct {
	ConversationID int64             `json:"conversation_id"`
	Messages       []messageResponse `json:"messages"`
	Total          int               `json:"total"`
	Page           int               `json:"page"`
	PageSize       int               `json:"page_size"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// SendSMS handles POST /api/messages/sms. type selects sms or mms.
func (h *MessagesHandler) SendSMS(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, phoneChannel, h.service.CreateOutbound, false)
}

// SendEmail handles POST /api/messages/email.
func (h *MessagesHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, emailChannel, h.service.CreateOutbound, false)
}

// ReceiveSMS handles POST /api/webhooks/sms.
func (h *MessagesHandler) ReceiveSMS(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, phoneChannel, h.service.CreateInbound, true)
}

// ReceiveEmail handles POST /api/webhooks/email.
func (h *MessagesHandler) ReceiveEmail(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, emailChannel, h.service.CreateInbound, false)
}

func phoneChannel(raw string) (messaging.Channel, error) {
	if strings.TrimSpace(raw) == "" {
		return messaging.ChannelSMS, nil
	}
	ch, err := messaging.ParseChannel(raw)
	if err != nil {
		return "", err
	}
	if !ch.IsPhone() {
		return "", &messaging.ValidationError{Field: "type", Reason: "must be sms or mms"}
	}
	return ch, nil
}

func emailChannel(raw string) (messaging.Channel, error) {
	if strings.TrimSpace(raw) != "" && !strings.EqualFold(strings.TrimSpace(raw), string(messaging.ChannelEmail)) {
		return "", &messaging.ValidationError{Field: "type", Reason: "must be email"}
	}
	return messaging.ChannelEmail, nil
}

type createFunc func(ctx context.Context, req messaging.CreateRequest) (*messaging.Message, error)

func (h *MessagesHandler) create(w http.ResponseWriter, r *http.Request, channelOf func(string) (messaging.Channel, error), create createFunc, verifySignature bool) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx), "path", r.URL.Path)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	defer r.Body.Close()

	if verifySignature && h.verifier != nil {
		if err := h.verifier.VerifyWebhookSignature(r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body); err != nil {
			logger.Warn("webhook signature rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid webhook signature")
			return
		}
	}

	req, extra, err := decodeMessageRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", validationMessage(err))
		return
	}
	channel, err := channelOf(req.Type)
	if err != nil {
		h.writeServiceError(w, logger, err)
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.Timestamp))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "timestamp must be RFC3339")
		return
	}

	msg, err := create(ctx, messaging.CreateRequest{
		From:              req.From,
		To:                req.To,
		Channel:           channel,
		Body:              req.Body,
		Timestamp:         ts,
		ProviderMessageID: req.MessagingProviderID,
		AttachmentURLs:    req.Attachments,
		Extra:             extra,
	})
	if err != nil {
		h.writeServiceError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func decodeMessageRequest(body []byte) (messageRequest, map[string]any, error) {
	var req messageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return messageRequest{}, nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return messageRequest{}, nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	var extra map[string]any
	for k, v := range raw {
		if knownRequestKeys[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return req, extra, nil
}

// GetStatus handles GET /api/messages/{id}/status.
func (h *MessagesHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid message id")
		return
	}
	view, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListConversations handles GET /api/conversations.
func (h *MessagesHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	listing, err := h.service.ListConversations(r.Context(), page)
	if err != nil {
		h.writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListMessages handles GET /api/conversations/{id}/messages.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || convID <= 0 {
		writeError(w, http.StatusBadRequest, "validation", "invalid conversation id")
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	listing, err := h.service.ListMessages(r.Context(), convID, page)
	if err != nil {
		h.writeServiceError(w, h.logger, err)
		return
	}
	resp := messageListingResponse{
		ConversationID: listing.ConversationID,
		Messages:       make([]messageResponse, 0, len(listing.Messages)),
		Total:          listing.Total,
		Page:           listing.Page,
		PageSize:       listing.PageSize,
	}
	for _, msg := range listing.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

func pageFromQuery(r *http.Request) (conversation.Page, error) {
	var page conversation.Page
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, errors.New("page must be a positive integer")
		}
		page.Number = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, errors.New("page_size must be a positive integer")
		}
		page.Size = n
	}
	return page.Normalize(), nil
}

// HealthCheck handles GET /health.
func (h *MessagesHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *MessagesHandler) writeServiceError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var (
		validationErr  *messaging.ValidationError
		unsupportedErr *messaging.UnsupportedChannelError
		sameErr        *conversation.SameParticipantError
		addressErr     *conversation.InvalidAddressError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation", validationErr.Error())
	case errors.As(err, &unsupportedErr):
		writeError(w, http.StatusBadRequest, "unsupported_channel", unsupportedErr.Error())
	case errors.As(err, &sameErr):
		writeError(w, http.StatusBadRequest, "same_participant", sameErr.Error())
	case errors.As(err, &addressErr):
		writeError(w, http.StatusBadRequest, "invalid_address", addressErr.Error())
	case errors.Is(err, messaging.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "not_found", "message not found")
	case errors.Is(err, messaging.ErrInboundMessage):
		writeError(w, http.StatusNotFound, "not_found", "inbound messages have no delivery status")
	case errors.Is(err, conversation.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
