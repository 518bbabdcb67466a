package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

// Store persists conversations keyed by their canonical participant pair.
type Store interface {
	Directory
	GetConversationByPair(ctx context.Context, lowID, highID int64) (Conversation, error)
	// CreateConversation must behave as get-or-create: a concurrent insert of the
	// same pair resolves to the existing row.
	CreateConversation(ctx context.Context, low, high Participant) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	ListConversations(ctx context.Context, page Page) ([]Conversation, int, error)
}

// Registry maps unordered participant pairs to exactly one conversation.
type Registry struct {
	store     Store
	directory Directory
	logger    *logging.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithDirectory resolves participants through d instead of the store, e.g. a cache.
func WithDirectory(d Directory) RegistryOption {
	return func(r *Registry) {
		if d != nil {
			r.directory = d
		}
	}
}

// NewRegistry builds a registry over the given store.
func NewRegistry(store Store, logger *logging.Logger, opts ...RegistryOption) *Registry {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{store: store, directory: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the conversation between two addresses, creating the
// participants and the conversation as needed. Argument order does not matter.
func (r *Registry) Resolve(ctx context.Context, addressA, addressB string) (Conversation, error) {
	addressA = NormalizeAddress(addressA)
	addressB = NormalizeAddress(addressB)
	if addressA == "" {
		return Conversation{}, &InvalidAddressError{Side: "from"}
	}
	if addressB == "" {
		return Conversation{}, &InvalidAddressError{Side: "to"}
	}
	if addressA == addressB {
		return Conversation{}, &SameParticipantError{Address: addressA}
	}

	a, err := r.directory.Resolve(ctx, addressA)
	if err != nil {
		return Conversation{}, err
	}
	b, err := r.directory.Resolve(ctx, addressB)
	if err != nil {
		return Conversation{}, err
	}
	if a.ID == b.ID {
		return Conversation{}, &SameParticipantError{Address: addressA}
	}
	low, high := Canonical(a, b)

	conv, err := r.store.GetConversationByPair(ctx, low.ID, high.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return Conversation{}, err
	}

	conv, err = r.store.CreateConversation(ctx, low, high)
	if err != nil {
		return Conversation{}, err
	}
	r.logger.Debug("conversation resolved", "conversation_id", conv.ID, "participant_low", low.ID, "participant_high", high.ID)
	return conv, nil
}

// Get returns a conversation by ID.
func (r *Registry) Get(ctx context.Context, id int64) (Conversation, error) {
	return r.store.GetConversation(ctx, id)
}

// List returns one page of conversations ordered by creation.
func (r *Registry) List(ctx context.Context, page Page) (Listing, error) {
	page = page.Normalize()
	convs, total, err := r.store.ListConversations(ctx, page)
	if err != nil {
		return Listing{}, fmt.Errorf("conversation: list: %w", err)
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return Listing{Conversations: convs, Total: total, Page: page.Number, PageSize: page.Size}, nil
}
