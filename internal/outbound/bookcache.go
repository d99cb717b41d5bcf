package outbound

import (
	"DeepReplay/internal/orderbook"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BookCache stores materialized book snapshots under book:{venue}.
type BookCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewBookCache connects to redisURL and verifies the connection.
func NewBookCache(redisURL, password string, ttl time.Duration, logger zerolog.Logger) (*BookCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opt.Password = password
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewBookCacheFromClient(client, ttl, logger), nil
}

func NewBookCacheFromClient(client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *BookCache {
	return &BookCache{client: client, ttl: ttl, logger: logger}
}

func bookKey(venue string) string {
	return "book:" + venue
}

func (c *BookCache) Put(ctx context.Context, venue string, snap orderbook.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, bookKey(venue), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", bookKey(venue), err)
	}
	c.logger.Debug().
		Str("venue", venue).
		Int("size_bytes", len(data)).
		Dur("ttl", c.ttl).
		Msg("book snapshot cached")
	return nil
}

// Get returns the cached snapshot, or nil without error on a miss.
func (c *BookCache) Get(ctx context.Context, venue string) (*orderbook.Snapshot, error) {
	data, err := c.client.Get(ctx, bookKey(venue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", bookKey(venue), err)
	}
	var snap orderbook.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", venue, err)
	}
	return &snap, nil
}

// PutAll caches every book, stopping at the first failure.
func (c *BookCache) PutAll(ctx context.Context, books map[string]*orderbook.Book) error {
	for venue, b := range books {
		if err := c.Put(ctx, venue, b.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

func (c *BookCache) Close() error {
	return c.client.Close()
}
