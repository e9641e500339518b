package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps JSON snapshots in process memory with a TTL. It applies the
// same forward-only commit_state rule as the Redis store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

type memoryEntry struct {
	payload   []byte
	state     CommitState
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*DialogueState, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidSession
	}

	s.mu.Lock()
	entry, ok := s.items[conversationID]
	if ok && s.expired(entry) {
		delete(s.items, conversationID)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrStateNotFound
	}

	var st DialogueState
	if err := json.Unmarshal(entry.payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal dialogue state: %w", err)
	}
	return &st, nil
}

func (s *MemoryStore) Save(ctx context.Context, st *DialogueState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.ConversationID) == "" {
		return ErrInvalidSession
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal dialogue state: %w", err)
	}

	entry := memoryEntry{payload: payload, state: st.CommitState}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[st.ConversationID]; ok && !s.expired(cur) && supersedes(cur.state, entry.state) {
		return fmt.Errorf("%w: conversation %s", ErrSnapshotSuperseded, st.ConversationID)
	}
	s.items[st.ConversationID] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.items, conversationID)
	s.mu.Unlock()
	return nil
}

// Len counts unexpired snapshots.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.items {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
