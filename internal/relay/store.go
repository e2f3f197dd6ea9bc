package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/park285/chess-relay-server/internal/rating"
)

// Store is the registry of active sessions. The coordinator is the only
// writer; a missing session on Get is a normal condition reported as
// (nil, nil), never an error.
type Store interface {
	Create(ctx context.Context, whiteID, blackID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Remove(ctx context.Context, id string) error
}

// RatingStore persists per-user ratings across sessions. Unknown users are
// reported at the default rating.
type RatingStore interface {
	Rating(ctx context.Context, userID string) (int, error)
	SetRating(ctx context.Context, userID string, r int) error
}

// MemoryStore is the default single-process Store. The mutex guards against
// concurrent reads from the evaluation path; all writes come from the
// coordinator's serialized handlers.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, whiteID, blackID string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		FEN:       StartFEN,
		Moves:     []MoveRecord{},
		Chat:      []ChatMessage{},
		WhiteID:   whiteID,
		BlackID:   blackID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return cloneSession(s), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	m.sessions[s.ID] = cloneSession(s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// cloneSession keeps callers from aliasing stored slices.
func cloneSession(s *Session) *Session {
	out := *s
	out.Moves = append([]MoveRecord(nil), s.Moves...)
	out.Chat = append([]ChatMessage(nil), s.Chat...)
	return &out
}

// MemoryRatingStore keeps ratings in-process. Suitable for tests and for
// single-node deployments without Redis.
type MemoryRatingStore struct {
	mu      sync.RWMutex
	ratings map[string]int
}

func NewMemoryRatingStore() *MemoryRatingStore {
	return &MemoryRatingStore{ratings: make(map[string]int)}
}

func (m *MemoryRatingStore) Rating(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.ratings[userID]; ok {
		return r, nil
	}
	return rating.DefaultRating, nil
}

func (m *MemoryRatingStore) SetRating(ctx context.Context, userID string, r int) error {
	m.mu.Lock()
	m.ratings[userID] = r
	m.mu.Unlock()
	return nil
}
