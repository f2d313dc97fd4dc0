package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/malakmagdy1/RealStateFlutter/internal/config"
)

func TestKey(t *testing.T) {
	if got := Key("stats", "location", "new cairo"); got != "realestate:stats:location:new cairo" {
		t.Fatalf("Key = %q", got)
	}
	if got := Key(); got != KeyPrefix {
		t.Fatalf("empty Key = %q", got)
	}
}

func TestNilClientReturnsError(t *testing.T) {
	var c *Client
	if _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	type stats struct {
		Average float64 `json:"average"`
		Units   int     `json:"units"`
	}
	key := Key("test", "stats")
	if err := client.SetJSON(ctx, key, stats{Average: 2500000, Units: 12}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got stats
	if err := client.GetJSON(ctx, key, &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Units != 12 || got.Average != 2500000 {
		t.Fatalf("unexpected value %+v", got)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := client.GetJSON(ctx, key, &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
