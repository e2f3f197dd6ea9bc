// Package engine wraps an external UCI engine binary behind a one-shot
// evaluate call. Every cache miss spawns a fresh subprocess, runs a single
// fixed-depth search, and tears the process down as soon as a bestmove line is
// observed. Faults in one search can therefore never leak into another.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-relay-server/internal/obslog"
)

var (
	// ErrTimeout is returned when no bestmove arrives within the deadline.
	ErrTimeout = errors.New("engine evaluation timed out")
	// ErrUnavailable is returned when the engine process cannot be started
	// or exits before producing a result.
	ErrUnavailable = errors.New("engine unavailable")
)

// mateValue is the sentinel centipawn magnitude used when the engine reports
// a forced mate instead of a score.
const mateValue = 30000

// Evaluation is the immutable result of one engine search.
type Evaluation struct {
	BestMove string `json:"best_move,omitempty"`
	ScoreCP  *int   `json:"score_cp,omitempty"`
	MateIn   *int   `json:"mate_in,omitempty"`
}

// ScoreSentinel collapses the evaluation to a single signed centipawn value,
// mapping mate distances to +/-mateValue.
func (e Evaluation) ScoreSentinel() int {
	if e.MateIn != nil {
		if *e.MateIn >= 0 {
			return mateValue
		}
		return -mateValue
	}
	if e.ScoreCP != nil {
		return *e.ScoreCP
	}
	return 0
}

type Adapter struct {
	binaryPath string
	depth      int
	timeout    time.Duration

	cacheMu sync.Mutex
	cache   map[string]Evaluation
}

func NewAdapter(binaryPath string, depth int, timeout time.Duration) (*Adapter, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	if depth <= 0 {
		depth = 15
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		binaryPath: binaryPath,
		depth:      depth,
		timeout:    timeout,
		cache:      make(map[string]Evaluation),
	}, nil
}

// Evaluate returns the engine's evaluation of the position. Results are
// cached by exact FEN for the lifetime of the process; a hit spawns nothing.
func (a *Adapter) Evaluate(ctx context.Context, fen string) (Evaluation, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return Evaluation{}, fmt.Errorf("empty position")
	}

	a.cacheMu.Lock()
	if ev, ok := a.cache[fen]; ok {
		a.cacheMu.Unlock()
		return ev, nil
	}
	a.cacheMu.Unlock()

	ev, err := a.search(ctx, fen)
	if err != nil {
		return Evaluation{}, err
	}

	a.cacheMu.Lock()
	a.cache[fen] = ev
	a.cacheMu.Unlock()
	return ev, nil
}

// search runs one subprocess to completion. The process is torn down on every
// exit path: the moment bestmove is seen, on timeout, and on read failure.
func (a *Adapter) search(ctx context.Context, fen string) (Evaluation, error) {
	cmd := exec.Command(a.binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: create stdin pipe: %v", ErrUnavailable, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return Evaluation{}, fmt.Errorf("%w: create stdout pipe: %v", ErrUnavailable, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return Evaluation{}, fmt.Errorf("%w: start: %v", ErrUnavailable, err)
	}
	defer a.teardown(cmd, stdin)

	cmds := []string{
		"uci\n",
		"isready\n",
		fmt.Sprintf("position fen %s\n", fen),
		fmt.Sprintf("go depth %d\n", a.depth),
	}
	for _, c := range cmds {
		if _, err := io.WriteString(stdin, c); err != nil {
			return Evaluation{}, fmt.Errorf("%w: write command: %v", ErrUnavailable, err)
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reader := bufio.NewReader(stdoutPipe)
	var ev Evaluation
	for {
		line, err := readLine(searchCtx, reader)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				obslog.L().Warn("engine_timeout", zap.String("fen", fen), zap.Duration("timeout", a.timeout))
				return Evaluation{}, ErrTimeout
			}
			if errors.Is(err, context.Canceled) {
				return Evaluation{}, err
			}
			return Evaluation{}, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if cp, mate, ok := parseScore(line); ok {
				ev.ScoreCP, ev.MateIn = cp, mate
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			if len(parts) >= 2 && parts[1] != "(none)" {
				ev.BestMove = parts[1]
			}
			return ev, nil
		}
	}
}

func (a *Adapter) teardown(cmd *exec.Cmd, stdin io.WriteCloser) {
	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
}

// parseScore extracts the latest "score cp N" or "score mate N" from an info
// line. Exactly one of the returned pointers is set on success.
func parseScore(line string) (cp *int, mate *int, ok bool) {
	parts := strings.Fields(line)
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "score" {
			continue
		}
		v, err := strconv.Atoi(parts[i+2])
		if err != nil {
			return nil, nil, false
		}
		switch parts[i+1] {
		case "cp":
			return &v, nil, true
		case "mate":
			return nil, &v, true
		}
	}
	return nil, nil, false
}

// readLine reads one line without letting a hung engine block forever.
func readLine(ctx context.Context, r *bufio.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}
