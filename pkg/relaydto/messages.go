package relaydto

import "time"

// Inbound command types accepted by the gateway.
const (
	CmdCreateGame  = "createGame"
	CmdAttemptMove = "attemptMove"
	CmdSendChat    = "sendChat"
	CmdResign      = "resign"
)

// Outbound event types emitted by the coordinator.
const (
	EvtGameCreated   = "gameCreated"
	EvtStateUpdated  = "stateUpdated"
	EvtMoveEvaluated = "moveEvaluated"
	EvtRatingUpdated = "ratingUpdated"
	EvtError         = "error"
)

// Command is the envelope for every inbound client message.
// Fields beyond Type are populated per command type.
type Command struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
	Move   string `json:"move,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Event is the envelope for every outbound server message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ChatMessage struct {
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// GameCreated is sent to the creator only.
type GameCreated struct {
	GameID     string `json:"gameId"`
	FEN        string `json:"fen"`
	OpponentID string `json:"opponentId"`
}

// StateUpdated carries the full position and full chat transcript, not deltas.
type StateUpdated struct {
	GameID       string        `json:"gameId"`
	FEN          string        `json:"fen"`
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// MoveEvaluated is best-effort: it may never arrive for a given move.
// FEN identifies the position the evaluation applies to, since an evaluation
// for an earlier position can land after a later move was committed.
type MoveEvaluated struct {
	GameID   string `json:"gameId"`
	FEN      string `json:"fen"`
	Move     string `json:"move"`
	BestMove string `json:"bestMove,omitempty"`
	Label    string `json:"label"`
}

// RatingUpdated is emitted once per participant when a game finishes.
type RatingUpdated struct {
	GameID    string `json:"gameId"`
	UserID    string `json:"userId"`
	NewRating int    `json:"newRating"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
