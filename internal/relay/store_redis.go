package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-relay-server/internal/rating"
)

const sessionTTL = 24 * time.Hour

// RedisStore is a drop-in Store backed by Redis. Sessions are JSON values
// with a bounded TTL so abandoned games age out on their own. The
// single-writer discipline still comes from the coordinator; no optimistic
// concurrency control is needed here.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisStore) Create(ctx context.Context, whiteID, blackID string) (*Session, error) {
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
	if err := r.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sessionKey(s.ID), raw, sessionTTL).Err()
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, sessionKey(id)).Err()
}

func sessionKey(id string) string { return "relay:session:" + strings.TrimSpace(id) }

// RedisRatingStore persists ratings under one key per user, no TTL.
type RedisRatingStore struct {
	rdb *redis.Client
}

func NewRedisRatingStore(redisURL string) (*RedisRatingStore, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRatingStore{rdb: rdb}, nil
}

func (r *RedisRatingStore) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisRatingStore) Rating(ctx context.Context, userID string) (int, error) {
	raw, err := r.rdb.Get(ctx, ratingKey(userID)).Result()
	if err == redis.Nil {
		return rating.DefaultRating, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt rating for %s: %w", userID, err)
	}
	return n, nil
}

func (r *RedisRatingStore) SetRating(ctx context.Context, userID string, rat int) error {
	return r.rdb.Set(ctx, ratingKey(userID), strconv.Itoa(rat), 0).Err()
}

func ratingKey(userID string) string { return "relay:rating:" + strings.TrimSpace(userID) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
