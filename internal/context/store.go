package context

import "sync"

// Store keeps a bounded, ordered conversation window per user for the
// lifetime of the process. It is safe for concurrent use; every operation
// holds the lock only for the in-memory work.
type Store struct {
	mu         sync.Mutex
	compressor SimpleCompressor
	histories  map[int64][]Message
}

// NewStore creates an empty store capped at maxTurns turns per user.
// A non-positive maxTurns selects MaxHistory.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = MaxHistory
	}
	return &Store{
		compressor: SimpleCompressor{MaxMessages: maxTurns},
		histories:  map[int64][]Message{},
	}
}

// Cap returns the per-user turn limit.
func (s *Store) Cap() int {
	return s.compressor.MaxMessages
}

// Append records a turn for userID and evicts the oldest turns beyond the cap.
func (s *Store) Append(userID int64, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.histories[userID], Message{Role: role, Content: content})
	s.histories[userID] = s.compressor.Compress(h)
}

// Get returns a copy of the user's history in stored order.
func (s *Store) Get(userID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.histories[userID]
	out := make([]Message, len(h))
	copy(out, h)
	return out
}

// GetHistory returns the most recent limit turns. A non-positive limit
// returns the whole window.
func (s *Store) GetHistory(userID int64, limit int) ([]Message, error) {
	h := s.Get(userID)
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h, nil
}

// Clear drops the user's history. Clearing an unknown user is a no-op.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histories[userID]; ok {
		s.histories[userID] = nil
	}
}

// Users returns how many users have interacted since start.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories)
}
