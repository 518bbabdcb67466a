package telnyxclient

import (
	"errors"
	"strings"
	"time"
)

// SendMessageRequest describes an outbound SMS/MMS payload.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MediaURLs          []string
	MessagingProfileID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: from and to numbers required")
	}
	if strings.TrimSpace(r.Body) == "" && len(r.MediaURLs) == 0 {
		return errors.New("telnyxclient: body or media required")
	}
	return nil
}

func (r SendMessageRequest) messageType() string {
	if len(r.MediaURLs) > 0 {
		return "MMS"
	}
	return "SMS"
}

// MessageResponse represents the Telnyx message resource.
type MessageResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	From      any       `json:"from"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Direction string    `json:"direction"`
	Parts     int       `json:"parts"`
	Media     []struct {
		URL string `json:"url"`
	} `json:"media,omitempty"`
}

// SendResponse carries the HTTP status alongside the created message.
type SendResponse struct {
	StatusCode int
	Message    MessageResponse
}
