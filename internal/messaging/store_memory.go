package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
)

// MemoryStore is an in-process Repository for development and tests.
type MemoryStore struct {
	mu           sync.Mutex
	messages     map[uuid.UUID]*Message
	nextAttachID int64
	now          func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]*Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ Repository = (*MemoryStore)(nil)

func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("messaging: message required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return errors.New("messaging: duplicate message id")
	}
	msg.CreatedAt = s.now()
	for i := range msg.Attachments {
		s.nextAttachID++
		msg.Attachments[i].ID = s.nextAttachID
		msg.Attachments[i].MessageID = msg.ID
	}
	if out, ok := msg.Direction.(Outbound); ok {
		st := out.Status
		st.MessageID = msg.ID
		if st.State == "" {
			st.State = StatePending
		}
		if st.NextAttemptAt == nil {
			due := msg.CreatedAt
			st.NextAttemptAt = &due
		}
		st.UpdatedAt = msg.CreatedAt
		msg.Direction = Outbound{Status: st}
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st, ok := msg.OutboundStatus()
	if !ok {
		return Status{}, ErrInboundMessage
	}
	return st, nil
}

func (s *MemoryStore) MutateStatus(_ context.Context, id uuid.UUID, fn StatusMutation) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return Status{}, ErrMessageNotFound
	}
	out, ok := msg.Direction.(Outbound)
	if !ok {
		return Status{}, ErrInboundMessage
	}
	st := cloneStatus(out.Status)
	changed, err := fn(&st)
	if err != nil {
		return Status{}, err
	}
	if !changed {
		return st, nil
	}
	st.UpdatedAt = s.now()
	msg.Direction = Outbound{Status: cloneStatus(st)}
	return st, nil
}

func (s *MemoryStore) ListDue(_ context.Context, cutoff time.Time, limit int) ([]DueAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	var out []DueAttempt
	for id, msg := range s.messages {
		st, ok := msg.OutboundStatus()
		if !ok || st.State.Terminal() || st.NextAttemptAt == nil || st.NextAttemptAt.After(cutoff) {
			continue
		}
		next := *st.NextAttemptAt
		out = append(out, DueAttempt{MessageID: id, State: st.State, NextAttemptAt: &next})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID int64, page conversation.Page) ([]*Message, int, error) {
	page = page.Normalize()
	s.mu.Lock()
	var all []*Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			all = append(all, cloneMessage(msg))
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	start := page.Offset()
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func cloneMessage(msg *Message) *Message {
	cp := *msg
	if msg.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), msg.Attachments...)
	}
	if msg.Extra != nil {
		cp.Extra = make(map[string]any, len(msg.Extra))
		for k, v := range msg.Extra {
			cp.Extra[k] = v
		}
	}
	if out, ok := msg.Direction.(Outbound); ok {
		cp.Direction = Outbound{Status: cloneStatus(out.Status)}
	}
	return &cp
}

func cloneStatus(st Status) Status {
	if st.LastStatusCode != nil {
		code := *st.LastStatusCode
		st.LastStatusCode = &code
	}
	if st.NextAttemptAt != nil {
		next := *st.NextAttemptAt
		st.NextAttemptAt = &next
	}
	return st
}
