package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrParticipantNotFound is returned when a participant lookup misses.
	ErrParticipantNotFound = errors.New("conversation: participant not found")
	// ErrConversationNotFound is returned when a conversation lookup misses.
	ErrConversationNotFound = errors.New("conversation: conversation not found")
)

// Participant is an addressable party (phone number or email address).
// IDs come from a creation sequence, so a lower ID means created earlier.
type Participant struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory resolves an address to its participant, creating it on first reference.
type Directory interface {
	Resolve(ctx context.Context, address string) (Participant, error)
}

// SameParticipantError rejects a conversation between an address and itself.
type SameParticipantError struct {
	Address string
}

func (e *SameParticipantError) Error() string {
	return fmt.Sprintf("conversation: cannot open a conversation between %q and itself", e.Address)
}

// InvalidAddressError rejects an empty participant address.
type InvalidAddressError struct {
	Side string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("conversation: %s address is required", e.Side)
}

// NormalizeAddress trims surrounding whitespace. Addresses are otherwise compared verbatim.
func NormalizeAddress(address string) string {
	return strings.TrimSpace(address)
}
