// Package redisx wires redis/go-redis/v9 for ambient, non-authoritative
// state: cached room snapshots for the rooms-list endpoint. Core
// forwarding/group state stays in-memory only and never touches Redis.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient dials address, verifies connectivity with a bounded ping, and
// returns a ready-to-use pooled client.
func NewClient(address, password string, db, poolSize int, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger != nil {
		logger.Info("connected to redis",
			zap.String("address", address),
			zap.Int("db", db),
			zap.Int("pool_size", poolSize),
		)
	}

	return client, nil
}

// Close closes the client, tolerating a nil receiver.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
