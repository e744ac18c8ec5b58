// Package redis provides a Redis implementation of the notify.Log interface.
// Entries are stored as hashes, one per session id.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gofulfill/pkg/notify"
)

// Storage implements notify.Log using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

var _ notify.Log = (*Storage)(nil)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gofulfill:notificationLog:")
	KeyPrefix string

	// EntryTTL is the TTL of log entries (0 = no expiration). It should
	// outlast the payment processor's webhook retry window.
	EntryTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gofulfill:notificationLog:",
		EntryTTL:  30 * 24 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{client: client, config: config}, nil
}

// NewFromURL parses a redis:// URL and creates the adapter.
func NewFromURL(url string, config Config) (*Storage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(opts), config)
}

func (s *Storage) key(id string) string {
	return s.config.KeyPrefix + id
}

// Enabled implements notify.Log
func (s *Storage) Enabled() bool {
	return true
}

// Lookup implements notify.Log
func (s *Storage) Lookup(ctx context.Context, key string) (*notify.Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get notification entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil // Not found is not an error
	}

	e := &notify.Entry{
		Status:    fields["status"],
		Trigger:   fields["trigger"],
		Recipient: fields["recipient"],
		ProductID: fields["productId"],
		Error:     fields["error"],
	}
	if ts := fields["updatedAt"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

// Record implements notify.Log. The hash is replaced atomically.
func (s *Storage) Record(ctx context.Context, key string, e notify.Entry) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, map[string]interface{}{
			"status":    e.Status,
			"updatedAt": e.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"trigger":   e.Trigger,
			"recipient": e.Recipient,
			"productId": e.ProductID,
			"error":     e.Error,
		})
		if s.config.EntryTTL > 0 {
			pipe.Expire(ctx, k, s.config.EntryTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record notification entry: %w", err)
	}
	return nil
}

// Forget deletes the entry for key.
func (s *Storage) Forget(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete notification entry: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}
