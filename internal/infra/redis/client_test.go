package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/mealog/internal/infra/storage"
)

// replyError is an error reply as the server sends it.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError() {}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want storage.Kind
	}{
		{"canceled", context.Canceled, storage.KindCanceled},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), storage.KindDeadlineExceeded},
		{"closed client", redis.ErrClosed, storage.KindInternal},
		{"dial failure", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, storage.KindUnavailable},
		{"missing key", redis.Nil, storage.KindNotFound},
		{"no auth", replyError("NOAUTH Authentication required."), storage.KindPermissionDenied},
		{"wrong type", replyError("WRONGTYPE Operation against a key holding the wrong kind of value"), storage.KindInternal},
		{"out of memory", replyError("OOM command not allowed when used memory > 'maxmemory'."), storage.KindResourceExhausted},
		{"loading", fmt.Errorf("set: %w", replyError("LOADING Redis is loading the dataset in memory")), storage.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("revoke", tt.err)
			if got := storage.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
			if storage.IsTransient(err) != tt.want.Transient() {
				t.Errorf("transient = %v, want %v", storage.IsTransient(err), tt.want.Transient())
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestRevoke_ExpiredTokenSkipsRedis(t *testing.T) {
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	// rdb is nil: touching Redis would panic.
	c := &Client{now: func() time.Time { return now }}

	if err := c.Revoke(context.Background(), "jti-1", now.Add(-time.Minute)); err != nil {
		t.Errorf("Revoke of an expired token = %v, want nil", err)
	}
	if err := c.Revoke(context.Background(), "jti-2", now); err != nil {
		t.Errorf("Revoke at expiry = %v, want nil", err)
	}
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Error("expected an error for an invalid URL")
	}
}

func TestRevokedKey(t *testing.T) {
	if got := revokedKey("abc"); got != "revoked_tokens:abc" {
		t.Errorf("revokedKey = %q", got)
	}
}
