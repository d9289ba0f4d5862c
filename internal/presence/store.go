// Package presence tracks connected dashboard clients in Redis so that
// operational tooling can see who is attached across restarts, and caches
// the latest QR challenge so the REST surface can serve it even when the
// in-process copy is gone.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for dashboard connection hashes.
	KeyPrefix = "dash:"

	// QRKey holds the most recent QR challenge payload.
	QRKey = "wa:qr"

	// ConnTTL is the time-to-live for connection keys; refreshed on every
	// client ping.
	ConnTTL = 1 * time.Hour

	// QRTTL bounds how long a stale QR code is served.
	QRTTL = 5 * time.Minute
)

// Store manages dashboard presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create records a new dashboard connection.
func (s *Store) Create(ctx context.Context, id string) error {
	key := KeyPrefix + id
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":           id,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
		"last_seq":     0,
	})
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes liveness and records the highest event sequence number
// the client has acknowledged.
func (s *Store) Touch(ctx context.Context, id string, lastSeq uint64) error {
	key := KeyPrefix + id
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix(), "last_seq", lastSeq)
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a dashboard connection record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, KeyPrefix+id).Err()
}

// SetQR caches the latest QR challenge payload.
func (s *Store) SetQR(ctx context.Context, qr string) error {
	return s.client.Set(ctx, QRKey, qr, QRTTL).Err()
}

// GetQR returns the cached QR payload, or an empty string when none is
// cached.
func (s *Store) GetQR(ctx context.Context) (string, error) {
	qr, err := s.client.Get(ctx, QRKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	return qr, err
}

// ClearQR drops the cached QR payload (the challenge was consumed).
func (s *Store) ClearQR(ctx context.Context) error {
	return s.client.Del(ctx, QRKey).Err()
}

// Client returns the underlying Redis client for use by other packages
// (rate limiting shares the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
