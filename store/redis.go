package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/config"
)

// State groups the stores that may be shared between server processes.
type State struct {
	Ledger   Ledger
	Presence Presence
	Codes    Codes
}

// Open builds State for the configured backend. The returned close function
// releases the Redis client, if any.
func Open(ctx context.Context, cfg *config.Config) (State, func() error, error) {
	if cfg.Store.Backend != "redis" {
		return State{
			Ledger:   NewMemoryLedger(),
			Presence: NewMemoryPresence(),
			Codes:    NewMemoryCodes(),
		}, func() error { return nil }, nil
	}

	rdb, err := NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return State{}, nil, err
	}
	return State{
		Ledger:   NewRedisLedger(rdb, 0),
		Presence: NewRedisPresence(rdb),
		Codes:    NewRedisCodes(rdb),
	}, rdb.Close, nil
}

// NewRedisClient connects and pings once.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
