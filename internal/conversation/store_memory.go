package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	low, high int64
}

// MemoryStore keeps participants and conversations in process memory.
type MemoryStore struct {
	mu            sync.Mutex
	nextPID       int64
	nextCID       int64
	byAddress     map[string]Participant
	conversations map[int64]Conversation
	byPair        map[pairKey]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAddress:     make(map[string]Participant),
		conversations: make(map[int64]Conversation),
		byPair:        make(map[pairKey]int64),
	}
}

func (s *MemoryStore) Resolve(_ context.Context, address string) (Participant, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return Participant{}, &InvalidAddressError{Side: "participant"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byAddress[address]; ok {
		return p, nil
	}
	s.nextPID++
	p := Participant{ID: s.nextPID, Address: address, CreatedAt: time.Now().UTC()}
	s.byAddress[address] = p
	return p, nil
}

func (s *MemoryStore) GetConversationByPair(_ context.Context, lowID, highID int64) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pairKey{lowID, highID}]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, low, high Participant) (Conversation, error) {
	low, high = Canonical(low, high)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{low.ID, high.ID}
	if id, ok := s.byPair[key]; ok {
		return s.conversations[id], nil
	}
	s.nextCID++
	conv := Conversation{ID: s.nextCID, Low: low, High: high, CreatedAt: time.Now().UTC()}
	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id int64) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, page Page) ([]Conversation, int, error) {
	page = page.Normalize()
	s.mu.Lock()
	all := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		all = append(all, conv)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
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
