package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
)

// Attachment is a media reference carried by a message.
type Attachment struct {
	ID        int64     `json:"id"`
	MessageID uuid.UUID `json:"-"`
	URL       string    `json:"url"`
}

// Direction is either Inbound or Outbound. Only outbound messages carry a delivery status.
type Direction interface {
	direction() string
}

// Inbound marks a message received from a provider webhook.
type Inbound struct{}

// Outbound marks a message the service must deliver, with its delivery status.
type Outbound struct {
	Status Status
}

func (Inbound) direction() string  { return "inbound" }
func (Outbound) direction() string { return "outbound" }

// DirectionName returns "inbound" or "outbound".
func DirectionName(d Direction) string {
	if d == nil {
		return ""
	}
	return d.direction()
}

// Message is a single message persisted against a conversation.
type Message struct {
	ID                uuid.UUID
	ConversationID    int64
	From              conversation.Participant
	To                conversation.Participant
	Body              string
	Timestamp         time.Time
	Channel           Channel
	ProviderMessageID string
	Extra             map[string]any
	Attachments       []Attachment
	Direction         Direction
	CreatedAt         time.Time
}

// OutboundStatus returns the delivery status of an outbound message.
func (m *Message) OutboundStatus() (Status, bool) {
	if m == nil {
		return Status{}, false
	}
	out, ok := m.Direction.(Outbound)
	if !ok {
		return Status{}, false
	}
	return out.Status, true
}

// AttachmentURLs lists the attachment URLs in order.
func (m *Message) AttachmentURLs() []string {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		urls = append(urls, a.URL)
	}
	return urls
}
