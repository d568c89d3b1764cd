package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/mealog/internal/infra/storage"
)

// Client wraps Redis operations for token revocation.
type Client struct {
	rdb *redis.Client
	now func() time.Time
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, now: time.Now}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

func revokedKey(tokenID string) string {
	return fmt.Sprintf("revoked_tokens:%s", tokenID)
}

// Revoke marks tokenID as revoked until the token would have expired anyway.
// Tokens already past expiry are not stored.
func (c *Client) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Set(ctx, revokedKey(tokenID), "1", ttl).Err(); err != nil {
		return classify("revoke", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked.
func (c *Client) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, classify("is_revoked", err)
	}
	return n > 0, nil
}

// classify maps Redis failures onto storage kinds. Server replies are
// permanent unless the server reports a temporary state. Other failures are
// treated as the server being unreachable.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return storage.NewError(op, storage.KindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return storage.NewError(op, storage.KindDeadlineExceeded, err)
	case errors.Is(err, redis.ErrClosed):
		return storage.NewError(op, storage.KindInternal, err)
	case errors.Is(err, redis.Nil):
		return storage.NewError(op, storage.KindNotFound, err)
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return storage.NewError(op, replyKind(replyErr.Error()), err)
	}
	return storage.NewError(op, storage.KindUnavailable, err)
}

// replyKind maps a Redis error reply by its prefix.
func replyKind(msg string) storage.Kind {
	prefix, _, _ := strings.Cut(msg, " ")
	switch prefix {
	case "NOAUTH", "WRONGPASS", "NOPERM":
		return storage.KindPermissionDenied
	case "OOM":
		return storage.KindResourceExhausted
	case "LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY":
		return storage.KindUnavailable
	default:
		return storage.KindInternal
	}
}
