package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-relay-server/internal/engine"
	"github.com/park285/chess-relay-server/internal/obslog"
	"github.com/park285/chess-relay-server/internal/rating"
	"github.com/park285/chess-relay-server/pkg/relaydto"
)

// Evaluator is the position-evaluation capability. Failures here are
// enrichment failures, never move failures.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (engine.Evaluation, error)
}

// Broadcaster delivers events to a single user or to every connection in a
// session room. Implemented by the gateway.
type Broadcaster interface {
	ToUser(userID string, ev relaydto.Event)
	ToSession(sessionID string, ev relaydto.Event)
}

const defaultOpponentID = "mock-ai-player"

// Coordinator owns the per-session state machine. All command handlers run to
// completion under one lock, so session mutations are serialized and the
// store needs no write coordination of its own. The only suspension point is
// the background evaluation goroutine, which re-enters through the same lock
// when it attaches its result.
type Coordinator struct {
	mu      sync.Mutex
	store   Store
	ratings RatingStore
	events  Broadcaster

	eval        Evaluator // optional
	archive     Archiver  // optional
	opponentID  string
	evalTimeout time.Duration

	evals sync.WaitGroup
}

type Option func(*Coordinator)

func WithEvaluator(e Evaluator) Option {
	return func(c *Coordinator) { c.eval = e }
}

func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archive = a }
}

// WithOpponentID overrides the auto-matched second seat holder.
func WithOpponentID(id string) Option {
	return func(c *Coordinator) {
		if strings.TrimSpace(id) != "" {
			c.opponentID = id
		}
	}
}

func NewCoordinator(store Store, ratings RatingStore, events Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		ratings:     ratings,
		events:      events,
		opponentID:  defaultOpponentID,
		evalTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close waits for in-flight evaluations to drain.
func (c *Coordinator) Close() {
	c.evals.Wait()
}

// CreateGame allocates a session with the requester as first-mover and the
// auto-matched opponent in the second seat. The creation event goes to the
// requester only.
func (c *Coordinator) CreateGame(ctx context.Context, requesterID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.Create(ctx, requesterID, c.opponentID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	obslog.L().Info("game_create",
		zap.String("game_id", s.ID),
		zap.String("white_id", s.WhiteID),
		zap.String("black_id", s.BlackID),
	)
	c.events.ToUser(requesterID, relaydto.Event{
		Type: relaydto.EvtGameCreated,
		Data: relaydto.GameCreated{GameID: s.ID, FEN: s.FEN, OpponentID: s.BlackID},
	})
	return s, nil
}

// AttemptMove validates the move against the current position and commits it.
// An illegal move changes nothing. On commit the full state is broadcast
// immediately; the evaluation of the new position follows independently and
// is allowed to never arrive.
func (c *Coordinator) AttemptMove(ctx context.Context, sessionID, userID, move string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.Status != StatusActive {
		return ErrSessionNotFound
	}

	game := reconstruct(s.MovesUCI())
	if game == nil {
		return fmt.Errorf("session %s: stored history does not replay", s.ID)
	}

	san, uci, err := applyMove(game, move)
	if err != nil {
		return ErrIllegalMove
	}

	s.FEN = game.FEN()
	s.Moves = append(s.Moves, MoveRecord{SAN: san, UCI: uci})
	s.UpdatedAt = time.Now()

	outcome := game.Outcome()
	finished := outcome != nchess.NoOutcome
	if finished {
		s.Status = StatusFinished
	}
	if err := c.store.Update(ctx, s); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}

	obslog.L().Info("move_commit",
		zap.String("game_id", s.ID),
		zap.String("user_id", userID),
		zap.String("san", san),
		zap.String("uci", uci),
		zap.Int("ply", len(s.Moves)),
		zap.Bool("finished", finished),
	)
	c.broadcastState(s)

	if finished {
		c.finish(ctx, s, outcome, methodToken(game.Method()))
		return nil
	}
	c.requestEvaluation(s.ID, s.FEN, uci, len(s.Moves)-1)
	return nil
}

// SendChat appends a chat entry and rebroadcasts the full state. Messages
// that are empty after trimming are dropped without an error, matching the
// lenient chat UX.
func (c *Coordinator) SendChat(ctx context.Context, sessionID, senderID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.Status != StatusActive {
		return ErrSessionNotFound
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.Chat = append(s.Chat, ChatMessage{SenderID: senderID, Text: text, Timestamp: time.Now()})
	s.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, s); err != nil {
		return fmt.Errorf("commit chat: %w", err)
	}
	c.broadcastState(s)
	return nil
}

// Resign finishes the game as a loss for the resigner.
func (c *Coordinator) Resign(ctx context.Context, sessionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.Status != StatusActive {
		return ErrSessionNotFound
	}
	if userID != s.WhiteID && userID != s.BlackID {
		return ErrSessionNotFound
	}

	s.Status = StatusFinished
	s.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, s); err != nil {
		return fmt.Errorf("commit resignation: %w", err)
	}
	obslog.L().Info("game_resign", zap.String("game_id", s.ID), zap.String("user_id", userID))
	c.broadcastState(s)

	outcome := nchess.WhiteWon
	if userID == s.WhiteID {
		outcome = nchess.BlackWon
	}
	c.finish(ctx, s, outcome, "resignation")
	return nil
}

// finish runs the terminal sequence: rating updates for both seats from
// their stored ratings, best-effort archival, then eviction. Caller holds
// the lock and has already broadcast the final state.
func (c *Coordinator) finish(ctx context.Context, s *Session, outcome nchess.Outcome, method string) {
	var whiteScore float64
	var result string
	switch outcome {
	case nchess.WhiteWon:
		whiteScore, result = rating.Win, "white"
	case nchess.BlackWon:
		whiteScore, result = rating.Loss, "black"
	default:
		whiteScore, result = rating.Draw, "draw"
	}

	whiteRating, err := c.ratings.Rating(ctx, s.WhiteID)
	if err != nil {
		obslog.L().Error("rating_load_error", zap.String("user_id", s.WhiteID), zap.Error(err))
		whiteRating = rating.DefaultRating
	}
	blackRating, err := c.ratings.Rating(ctx, s.BlackID)
	if err != nil {
		obslog.L().Error("rating_load_error", zap.String("user_id", s.BlackID), zap.Error(err))
		blackRating = rating.DefaultRating
	}

	newWhite := rating.Next(whiteRating, blackRating, whiteScore)
	newBlack := rating.Next(blackRating, whiteRating, 1-whiteScore)
	if err := c.ratings.SetRating(ctx, s.WhiteID, newWhite); err != nil {
		obslog.L().Error("rating_persist_error", zap.String("user_id", s.WhiteID), zap.Error(err))
	}
	if err := c.ratings.SetRating(ctx, s.BlackID, newBlack); err != nil {
		obslog.L().Error("rating_persist_error", zap.String("user_id", s.BlackID), zap.Error(err))
	}

	obslog.L().Info("game_finish",
		zap.String("game_id", s.ID),
		zap.String("result", result),
		zap.String("method", method),
		zap.Int("white_rating", newWhite),
		zap.Int("black_rating", newBlack),
	)
	c.events.ToSession(s.ID, relaydto.Event{
		Type: relaydto.EvtRatingUpdated,
		Data: relaydto.RatingUpdated{GameID: s.ID, UserID: s.WhiteID, NewRating: newWhite},
	})
	c.events.ToSession(s.ID, relaydto.Event{
		Type: relaydto.EvtRatingUpdated,
		Data: relaydto.RatingUpdated{GameID: s.ID, UserID: s.BlackID, NewRating: newBlack},
	})

	if c.archive != nil {
		if err := c.archive.SaveResult(ctx, s, result, method); err != nil {
			obslog.L().Error("archive_error", zap.String("game_id", s.ID), zap.Error(err))
		}
	}
	if err := c.store.Remove(ctx, s.ID); err != nil {
		obslog.L().Error("session_evict_error", zap.String("game_id", s.ID), zap.Error(err))
	}
}

// requestEvaluation runs the engine in the background so a slow or hung
// search can never delay the move-committed broadcast. The emitted event is
// tagged with the evaluated FEN; a result landing after a later move was
// committed stays attributable.
func (c *Coordinator) requestEvaluation(sessionID, fen, uci string, moveIdx int) {
	if c.eval == nil {
		return
	}
	c.evals.Add(1)
	go func() {
		defer c.evals.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.evalTimeout)
		defer cancel()

		ev, err := c.eval.Evaluate(ctx, fen)
		if err != nil {
			obslog.L().Warn("evaluation_skipped",
				zap.String("game_id", sessionID),
				zap.String("fen", fen),
				zap.Error(err),
			)
			return
		}
		label := labelForScore(ev.ScoreSentinel())
		c.attachEvaluation(sessionID, uci, moveIdx, label)
		c.events.ToSession(sessionID, relaydto.Event{
			Type: relaydto.EvtMoveEvaluated,
			Data: relaydto.MoveEvaluated{
				GameID:   sessionID,
				FEN:      fen,
				Move:     uci,
				BestMove: ev.BestMove,
				Label:    label,
			},
		})
	}()
}

// attachEvaluation stores the label on the history entry it belongs to, if
// the session still exists and that entry is unchanged.
func (c *Coordinator) attachEvaluation(sessionID, uci string, moveIdx int, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := c.store.Get(ctx, sessionID)
	if err != nil || s == nil {
		return
	}
	if moveIdx < 0 || moveIdx >= len(s.Moves) || s.Moves[moveIdx].UCI != uci {
		return
	}
	s.Moves[moveIdx].Label = label
	if err := c.store.Update(ctx, s); err != nil {
		obslog.L().Warn("evaluation_attach_error", zap.String("game_id", sessionID), zap.Error(err))
	}
}

func (c *Coordinator) broadcastState(s *Session) {
	chat := make([]relaydto.ChatMessage, 0, len(s.Chat))
	for _, m := range s.Chat {
		chat = append(chat, relaydto.ChatMessage{SenderID: m.SenderID, Text: m.Text, Timestamp: m.Timestamp})
	}
	c.events.ToSession(s.ID, relaydto.Event{
		Type: relaydto.EvtStateUpdated,
		Data: relaydto.StateUpdated{GameID: s.ID, FEN: s.FEN, ChatMessages: chat},
	})
}

// reconstruct replays the stored UCI history from the start position. The
// stored FEN is presentation state; replaying is what keeps the two
// consistent by construction.
func reconstruct(moves []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

// applyMove decodes UCI first, then falls back to SAN, and applies the move.
func applyMove(game *nchess.Game, raw string) (san, uci string, err error) {
	pos := game.Position()
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", fmt.Errorf("empty move")
	}

	if mv, derr := (nchess.UCINotation{}).Decode(pos, strings.ToLower(trimmed)); derr == nil {
		if err := game.Move(mv, nil); err != nil {
			return "", "", err
		}
		return nchess.AlgebraicNotation{}.Encode(pos, mv), mv.String(), nil
	}

	if err := game.PushNotationMove(trimmed, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", "", err
	}
	moves := game.Moves()
	last := moves[len(moves)-1]
	return nchess.AlgebraicNotation{}.Encode(pos, last), last.String(), nil
}

func methodToken(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "repetition"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return "fifty-move rule"
	case nchess.InsufficientMaterial:
		return "insufficient material"
	default:
		return "draw"
	}
}

// labelForScore maps a centipawn score (from the mover's side) to the
// human-facing evaluation label.
func labelForScore(score int) string {
	switch {
	case score > 150:
		return "Brilliant"
	case score > 50:
		return "Good"
	case score > -30 && score < 30:
		return "Neutral"
	case score > -150:
		return "Inaccuracy"
	default:
		return "Blunder"
	}
}
