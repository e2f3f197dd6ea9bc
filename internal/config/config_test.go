package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("AUTH_MODE", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("ENGINE_DEPTH", "")
	t.Setenv("ENGINE_TIMEOUT_MS", "")
	t.Setenv("OPPONENT_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":3001" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.EngineDepth != 15 || cfg.EngineTimeout != 5*time.Second {
		t.Fatalf("unexpected engine defaults: depth=%d timeout=%v", cfg.EngineDepth, cfg.EngineTimeout)
	}
	if cfg.OpponentID != "mock-ai-player" {
		t.Fatalf("unexpected opponent id: %q", cfg.OpponentID)
	}
}

func TestLoadMissingStockfishPath(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("STOCKFISH_PATH", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing STOCKFISH_PATH")
	}
}

func TestLoadAuthModeValidation(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_MODE", "jwt")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing JWT_SECRET")
	}

	t.Setenv("AUTH_MODE", "remote")
	t.Setenv("IDENTITY_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing IDENTITY_BASE_URL")
	}

	t.Setenv("AUTH_MODE", "bogus")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown AUTH_MODE")
	}
}

func TestLoadYAMLOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := "listen_addr: \":9000\"\nstockfish_path: /opt/sf\nengine_depth: 10\njwt_secret: filesecret\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RELAY_CONFIG", path)
	t.Setenv("STOCKFISH_PATH", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_MODE", "")
	t.Setenv("ENGINE_DEPTH", "12")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("ENGINE_TIMEOUT_MS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.StockfishPath != "/opt/sf" {
		t.Fatalf("yaml overlay not applied: %+v", cfg)
	}
	// env wins over the file
	if cfg.EngineDepth != 12 {
		t.Fatalf("env override not applied: depth=%d", cfg.EngineDepth)
	}
	if cfg.JWTSecret != "filesecret" {
		t.Fatalf("jwt secret from file not applied: %q", cfg.JWTSecret)
	}
}
