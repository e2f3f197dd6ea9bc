package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// AppConfig is the process configuration. Values come from an optional YAML
// file (RELAY_CONFIG) overridden by environment variables.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	StockfishPath   string        `yaml:"stockfish_path"`
	EngineDepth     int           `yaml:"engine_depth"`
	EngineTimeout   time.Duration `yaml:"-"`
	EngineTimeoutMS int           `yaml:"engine_timeout_ms"`

	AuthMode        string `yaml:"auth_mode"` // "jwt" or "remote"
	JWTSecret       string `yaml:"jwt_secret"`
	IdentityBaseURL string `yaml:"identity_base_url"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	OpponentID string `yaml:"opponent_id"`
}

const (
	defaultListenAddr      = ":3001"
	defaultEngineDepth     = 15
	defaultEngineTimeoutMS = 5000
	defaultAuthMode        = "jwt"
	defaultOpponentID      = "mock-ai-player"
)

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      defaultListenAddr,
		EngineDepth:     defaultEngineDepth,
		EngineTimeoutMS: defaultEngineTimeoutMS,
		AuthMode:        defaultAuthMode,
		OpponentID:      defaultOpponentID,
	}

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.StockfishPath = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineTimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_MODE")); v != "" {
		cfg.AuthMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL")); v != "" {
		cfg.IdentityBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPPONENT_ID")); v != "" {
		cfg.OpponentID = v
	}

	cfg.EngineTimeout = time.Duration(cfg.EngineTimeoutMS) * time.Millisecond

	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	switch cfg.AuthMode {
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "remote":
		if cfg.IdentityBaseURL == "" {
			return nil, errors.New("IDENTITY_BASE_URL is required when AUTH_MODE=remote")
		}
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
	}

	return cfg, nil
}
