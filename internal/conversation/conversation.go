package conversation

import "time"

// Conversation is the single thread shared by an unordered pair of participants.
// Low always holds the participant with the smaller ID.
type Conversation struct {
	ID        int64       `json:"id"`
	Low       Participant `json:"participant_low"`
	High      Participant `json:"participant_high"`
	CreatedAt time.Time   `json:"created_at"`
}

// Includes reports whether the participant is one side of the conversation.
func (c Conversation) Includes(participantID int64) bool {
	return c.Low.ID == participantID || c.High.ID == participantID
}

// Canonical orders a pair so the first-created participant comes first.
func Canonical(a, b Participant) (Participant, Participant) {
	if b.ID < a.ID {
		return b, a
	}
	return a, b
}

const (
	DefaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a 1-based page of a listing.
type Page struct {
	Number int
	Size   int
}

// Normalize fills in defaults and clamps the size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// Listing is one page of conversations plus the total count.
type Listing struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}
