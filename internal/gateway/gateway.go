package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-relay-server/internal/obslog"
	"github.com/park285/chess-relay-server/internal/relay"
	"github.com/park285/chess-relay-server/pkg/relaydto"
)

const writeTimeout = 5 * time.Second

// Commander is the coordinator surface the gateway routes commands to.
type Commander interface {
	CreateGame(ctx context.Context, requesterID string) (*relay.Session, error)
	AttemptMove(ctx context.Context, sessionID, userID, move string) error
	SendChat(ctx context.Context, sessionID, senderID, text string) error
	Resign(ctx context.Context, sessionID, userID string) error
}

type client struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Gateway owns the websocket edge: it authenticates upgrades, routes inbound
// commands to the coordinator, and fans coordinator events back out. It is the
// coordinator's Broadcaster.
//
// Presence is one connection per user; a newer connection supersedes the old
// one, which is closed. Room membership follows the user across reconnects:
// issuing any command against a live session re-joins its room.
type Gateway struct {
	verifier TokenVerifier
	commands Commander

	mu    sync.Mutex
	conns map[string]*client
	rooms map[string]map[string]*client
}

func New(verifier TokenVerifier) *Gateway {
	return &Gateway{
		verifier: verifier,
		conns:    make(map[string]*client),
		rooms:    make(map[string]map[string]*client),
	}
}

// Bind attaches the command handler. Called once at wiring time; the gateway
// and coordinator reference each other, so one side has to late-bind.
func (g *Gateway) Bind(c Commander) {
	g.commands = c
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	userID, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		obslog.L().Warn("auth_reject", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "authentication rejected", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	cl := &client{userID: userID, conn: conn}
	g.register(cl)
	obslog.L().Info("ws_connect", zap.String("user_id", userID), zap.String("remote", r.RemoteAddr))

	defer func() {
		g.unregister(cl)
		_ = conn.CloseNow()
		obslog.L().Info("ws_disconnect", zap.String("user_id", userID))
	}()

	ctx := r.Context()
	for {
		var cmd relaydto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		g.dispatch(ctx, cl, cmd)
	}
}

func (g *Gateway) dispatch(ctx context.Context, cl *client, cmd relaydto.Command) {
	switch cmd.Type {
	case relaydto.CmdCreateGame:
		s, err := g.commands.CreateGame(ctx, cl.userID)
		if err != nil {
			g.sendError(cl, err)
			return
		}
		g.join(s.ID, cl)

	case relaydto.CmdAttemptMove:
		g.join(cmd.GameID, cl)
		err := g.commands.AttemptMove(ctx, cmd.GameID, cl.userID, cmd.Move)
		if errors.Is(err, relay.ErrSessionNotFound) {
			g.leave(cmd.GameID, cl)
		}
		if err != nil {
			g.sendError(cl, err)
		}

	case relaydto.CmdSendChat:
		g.join(cmd.GameID, cl)
		err := g.commands.SendChat(ctx, cmd.GameID, cl.userID, cmd.Text)
		if errors.Is(err, relay.ErrSessionNotFound) {
			g.leave(cmd.GameID, cl)
		}
		if err != nil {
			g.sendError(cl, err)
		}

	case relaydto.CmdResign:
		g.join(cmd.GameID, cl)
		if err := g.commands.Resign(ctx, cmd.GameID, cl.userID); err != nil {
			g.leave(cmd.GameID, cl)
			g.sendError(cl, err)
		}

	default:
		g.send(cl, relaydto.Event{
			Type: relaydto.EvtError,
			Data: relaydto.ErrorEvent{Code: relaydto.CodeBadCommand, Message: "unknown command type: " + cmd.Type},
		})
	}
}

// ToUser delivers an event to the user's active connection, dropping it
// silently if the user is offline.
func (g *Gateway) ToUser(userID string, ev relaydto.Event) {
	g.mu.Lock()
	cl := g.conns[userID]
	g.mu.Unlock()
	if cl == nil {
		return
	}
	g.send(cl, ev)
}

// ToSession fans an event out to every connection in the session's room. A
// failed write affects only that connection.
func (g *Gateway) ToSession(sessionID string, ev relaydto.Event) {
	g.mu.Lock()
	members := make([]*client, 0, len(g.rooms[sessionID]))
	for _, cl := range g.rooms[sessionID] {
		members = append(members, cl)
	}
	g.mu.Unlock()
	for _, cl := range members {
		g.send(cl, ev)
	}
}

func (g *Gateway) send(cl *client, ev relaydto.Event) {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, cl.conn, ev); err != nil {
		obslog.L().Warn("ws_write_error", zap.String("user_id", cl.userID), zap.Error(err))
	}
}

func (g *Gateway) sendError(cl *client, err error) {
	g.send(cl, relaydto.Event{Type: relaydto.EvtError, Data: errorEvent(err)})
}

func errorEvent(err error) relaydto.ErrorEvent {
	switch {
	case errors.Is(err, relay.ErrSessionNotFound):
		return relaydto.ErrorEvent{Code: relaydto.CodeSessionNotFound, Message: "game session not found"}
	case errors.Is(err, relay.ErrIllegalMove):
		return relaydto.ErrorEvent{Code: relaydto.CodeIllegalMove, Message: "illegal move"}
	default:
		return relaydto.ErrorEvent{Code: relaydto.CodeInternal, Message: "internal error"}
	}
}

func (g *Gateway) register(cl *client) {
	g.mu.Lock()
	prev := g.conns[cl.userID]
	g.conns[cl.userID] = cl
	for _, room := range g.rooms {
		if _, ok := room[cl.userID]; ok {
			room[cl.userID] = cl
		}
	}
	g.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
	}
}

func (g *Gateway) unregister(cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[cl.userID] == cl {
		delete(g.conns, cl.userID)
	}
	for id, room := range g.rooms {
		if room[cl.userID] == cl {
			delete(room, cl.userID)
			if len(room) == 0 {
				delete(g.rooms, id)
			}
		}
	}
}

func (g *Gateway) join(sessionID string, cl *client) {
	if sessionID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[sessionID]
	if room == nil {
		room = make(map[string]*client)
		g.rooms[sessionID] = room
	}
	room[cl.userID] = cl
}

func (g *Gateway) leave(sessionID string, cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := g.rooms[sessionID]
	if room == nil {
		return
	}
	if room[cl.userID] == cl {
		delete(room, cl.userID)
		if len(room) == 0 {
			delete(g.rooms, sessionID)
		}
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
