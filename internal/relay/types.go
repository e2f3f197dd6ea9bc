package relay

import (
	"errors"
	"time"
)

// StartFEN is the standard chess starting position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrSessionNotFound = errors.New("game session not found")
	ErrIllegalMove     = errors.New("illegal move")
)

// Status is a session lifecycle state. FINISHED is terminal.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

type ChatMessage struct {
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MoveRecord is one committed move plus the evaluation label attached to it
// once (and if) the engine reports back.
type MoveRecord struct {
	SAN   string `json:"san"`
	UCI   string `json:"uci"`
	Label string `json:"label,omitempty"`
}

// Session is the authoritative state of one game. The FEN is always derivable
// by replaying MovesUCI from the start position; both are committed together
// in a single store update and never edited independently.
type Session struct {
	ID        string        `json:"id"`
	FEN       string        `json:"fen"`
	Moves     []MoveRecord  `json:"moves"`
	Chat      []ChatMessage `json:"chat"`
	WhiteID   string        `json:"white_id"` // first-mover
	BlackID   string        `json:"black_id"` // second-mover
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MovesUCI returns the UCI move list in commit order.
func (s *Session) MovesUCI() []string {
	out := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		out = append(out, m.UCI)
	}
	return out
}

// MovesSAN returns the SAN move list in commit order.
func (s *Session) MovesSAN() []string {
	out := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		out = append(out, m.SAN)
	}
	return out
}
