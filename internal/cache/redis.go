// Package cache mirrors execution history and resource status into Redis so
// that other processes can read them without going through the API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"
)

// Key suffixes under the configured prefix.
const (
	KeyHistory = "history"
	KeyStatus  = "resources:status"
)

// Config holds mirror configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	StatusTTL time.Duration
	MaxLen    int64 // history entries kept
}

// Store is a Redis-backed history sink and status cache.
type Store struct {
	client    *redis.Client
	prefix    string
	statusTTL time.Duration
	maxLen    int64
	logger    *slog.Logger
}

// NewStore connects to cfg.Addr and verifies the connection.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	s := NewStoreFromClient(client, cfg, logger)
	s.logger.Info("connected", "addr", cfg.Addr, "prefix", s.prefix)
	return s, nil
}

// NewStoreFromClient wraps an existing client.
func NewStoreFromClient(client *redis.Client, cfg Config, logger *slog.Logger) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "orchestra"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 1000
	}
	return &Store{
		client:    client,
		prefix:    cfg.Prefix,
		statusTTL: cfg.StatusTTL,
		maxLen:    cfg.MaxLen,
		logger:    logging.OrDiscard(logger).With("component", "cache"),
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(suffix string) string {
	return s.prefix + ":" + suffix
}

// AppendExecution pushes rec onto the history list and trims it to MaxLen.
// It satisfies history.Sink.
func (s *Store) AppendExecution(ctx context.Context, rec model.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := s.key(KeyHistory)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// PutResourceStatus stores the latest status snapshot. It expires after
// StatusTTL so a dead orchestrator does not leave a stale healthy flag.
// It satisfies health.StatusSink.
func (s *Store) PutResourceStatus(ctx context.Context, st model.ResourceStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return s.client.Set(ctx, s.key(KeyStatus), data, s.statusTTL).Err()
}
