package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "github.com/park285/chess-relay-server/internal/config"
	"github.com/park285/chess-relay-server/internal/engine"
	"github.com/park285/chess-relay-server/internal/gateway"
	"github.com/park285/chess-relay-server/internal/obslog"
	"github.com/park285/chess-relay-server/internal/relay"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	var (
		store   relay.Store
		ratings relay.RatingStore
	)
	var closers []func() error
	if cfg.RedisURL != "" {
		rs, err := relay.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis store init error: %v", err)
		}
		rr, err := relay.NewRedisRatingStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis rating store init error: %v", err)
		}
		store, ratings = rs, rr
		closers = append(closers, rs.Close, rr.Close)
	} else {
		store = relay.NewMemoryStore()
		ratings = relay.NewMemoryRatingStore()
	}

	evaluator, err := engine.NewAdapter(cfg.StockfishPath, cfg.EngineDepth, cfg.EngineTimeout)
	if err != nil {
		log.Fatalf("engine init error: %v", err)
	}

	opts := []relay.Option{
		relay.WithEvaluator(evaluator),
		relay.WithOpponentID(cfg.OpponentID),
	}
	if cfg.DatabaseURL != "" {
		archive, err := relay.NewArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		opts = append(opts, relay.WithArchiver(archive))
		closers = append(closers, archive.Close)
	}

	var verifier gateway.TokenVerifier
	switch cfg.AuthMode {
	case "jwt":
		verifier = gateway.NewJWTVerifier(cfg.JWTSecret)
	case "remote":
		verifier = gateway.NewRemoteVerifier(cfg.IdentityBaseURL)
	}

	gw := gateway.New(verifier)
	coord := relay.NewCoordinator(store, ratings, gw, opts...)
	gw.Bind(coord)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		obslog.L().Info("server_start",
			zap.String("addr", cfg.ListenAddr),
			zap.String("auth_mode", cfg.AuthMode),
			zap.Bool("redis", cfg.RedisURL != ""),
			zap.Bool("archive", cfg.DatabaseURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("server_shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	coord.Close()
	for _, closeFn := range closers {
		_ = closeFn()
	}
}
