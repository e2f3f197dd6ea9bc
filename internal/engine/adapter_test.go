package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// writeStubEngine creates an executable script that plays the UCI side of the
// conversation. Each invocation appends one line to countFile.
func writeStubEngine(t *testing.T, body string) (binPath, countFile string) {
	t.Helper()
	dir := t.TempDir()
	countFile = filepath.Join(dir, "spawns")
	binPath = filepath.Join(dir, "stubfish")
	script := fmt.Sprintf("#!/bin/sh\necho run >> %s\n%s", countFile, body)
	if err := os.WriteFile(binPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub engine: %v", err)
	}
	return binPath, countFile
}

func spawnCount(t *testing.T, countFile string) int {
	t.Helper()
	raw, err := os.ReadFile(countFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read spawn count: %v", err)
	}
	return len(strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func TestEvaluateParsesScoreAndBestMove(t *testing.T) {
	bin, _ := writeStubEngine(t, strings.Join([]string{
		`echo "id name stubfish"`,
		`echo "uciok"`,
		`echo "readyok"`,
		`echo "info depth 9 score cp -18 pv e7e5"`,
		`echo "info depth 15 score cp 42 pv e2e4"`,
		`echo "bestmove e2e4 ponder e7e5"`,
	}, "\n"))

	a, err := NewAdapter(bin, 15, 3*time.Second)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	ev, err := a.Evaluate(context.Background(), startFEN)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.BestMove != "e2e4" {
		t.Fatalf("best move = %q, want e2e4", ev.BestMove)
	}
	if ev.ScoreCP == nil || *ev.ScoreCP != 42 {
		t.Fatalf("score = %v, want 42 (latest info line wins)", ev.ScoreCP)
	}
	if ev.MateIn != nil {
		t.Fatalf("unexpected mate score: %v", *ev.MateIn)
	}
}

func TestEvaluateParsesMateScore(t *testing.T) {
	bin, _ := writeStubEngine(t, strings.Join([]string{
		`echo "uciok"`,
		`echo "readyok"`,
		`echo "info depth 12 score mate -3 pv h7h6"`,
		`echo "bestmove h7h6"`,
	}, "\n"))

	a, err := NewAdapter(bin, 15, 3*time.Second)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	ev, err := a.Evaluate(context.Background(), startFEN)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.MateIn == nil || *ev.MateIn != -3 {
		t.Fatalf("mate = %v, want -3", ev.MateIn)
	}
	if ev.ScoreSentinel() != -mateValue {
		t.Fatalf("sentinel = %d, want %d", ev.ScoreSentinel(), -mateValue)
	}
}

func TestEvaluateCachesByPosition(t *testing.T) {
	bin, count := writeStubEngine(t, strings.Join([]string{
		`echo "uciok"`,
		`echo "readyok"`,
		`echo "info depth 15 score cp 7 pv g1f3"`,
		`echo "bestmove g1f3"`,
	}, "\n"))

	a, err := NewAdapter(bin, 15, 3*time.Second)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	first, err := a.Evaluate(context.Background(), startFEN)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	second, err := a.Evaluate(context.Background(), startFEN)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if first != second {
		t.Fatalf("cached result differs: %+v vs %+v", first, second)
	}
	if n := spawnCount(t, count); n != 1 {
		t.Fatalf("spawned %d processes, want 1", n)
	}
}

func TestEvaluateTimeout(t *testing.T) {
	bin, _ := writeStubEngine(t, strings.Join([]string{
		`echo "uciok"`,
		`echo "info depth 3 score cp 10 pv e2e4"`,
		`sleep 10`,
	}, "\n"))

	a, err := NewAdapter(bin, 15, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	start := time.Now()
	_, err = a.Evaluate(context.Background(), startFEN)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}

	// a failed search must not be cached: the next call runs the engine again
	if _, err := a.Evaluate(context.Background(), startFEN); !errors.Is(err, ErrTimeout) {
		t.Fatalf("second err = %v, want ErrTimeout", err)
	}
}

func TestEvaluateEngineExitsEarly(t *testing.T) {
	bin, _ := writeStubEngine(t, `echo "uciok"`)

	a, err := NewAdapter(bin, 15, 2*time.Second)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	_, err = a.Evaluate(context.Background(), startFEN)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewAdapterMissingBinary(t *testing.T) {
	if _, err := NewAdapter(filepath.Join(t.TempDir(), "nope"), 15, time.Second); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
