package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FundingSnapshot is the latest applied trigger, mirrored for out-of-process
// fee consumers. The mirror is never authoritative; the engine's ledger is.
type FundingSnapshot struct {
	Instrument        string `json:"instrument"`
	Timestamp         int64  `json:"timestamp"`
	Cumulative        uint64 `json:"cumulative"`
	TurbulencePercent uint64 `json:"turbulence_percent"`
}

// RedisMirror publishes the latest funding snapshot to redis.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror connects and pings the redis server.
func NewRedisMirror(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisMirror{client: client, ttl: ttl}, nil
}

// Close releases the redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func snapshotKey(instrument string) string {
	return fmt.Sprintf("funding:latest:%s", instrument)
}

// SetLatest overwrites the mirrored snapshot for the instrument.
func (m *RedisMirror) SetLatest(ctx context.Context, snap FundingSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := m.client.Set(ctx, snapshotKey(snap.Instrument), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot in redis: %w", err)
	}
	return nil
}

