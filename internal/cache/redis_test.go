package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatshop/internal/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	r := New(Config{Addr: srv.Addr()}, logging.Discard())
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

func TestMarkOnceOnlyFirstCallWins(t *testing.T) {
	r, srv := newTestRedis(t)
	ctx := context.Background()
	key := Key("dedupe", "store-1", "wamid.1")

	first, err := r.MarkOnce(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("MarkOnce: %v", err)
	}
	second, err := r.MarkOnce(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("MarkOnce second: %v", err)
	}
	if !first || second {
		t.Fatalf("expected first=true second=false, got %v %v", first, second)
	}

	srv.FastForward(2 * time.Minute)
	again, err := r.MarkOnce(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("MarkOnce after ttl: %v", err)
	}
	if !again {
		t.Fatal("expected key to be claimable after ttl expiry")
	}
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	var dest []string
	ok, err := r.GetJSON(ctx, Key("missing"), &dest)
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := r.SetJSON(ctx, Key("list"), []string{"a", "b"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	ok, err = r.GetJSON(ctx, Key("list"), &dest)
	if err != nil || !ok {
		t.Fatalf("GetJSON: ok=%v err=%v", ok, err)
	}
	if len(dest) != 2 || dest[1] != "b" {
		t.Fatalf("unexpected value %v", dest)
	}
}

func TestGetMissingReturnsRedisNil(t *testing.T) {
	r, _ := newTestRedis(t)
	_, err := r.Get(context.Background(), Key("nope"))
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestKeyNamespacing(t *testing.T) {
	if got := Key("a", "b"); got != "chatshop:a:b" {
		t.Fatalf("unexpected key %q", got)
	}
}
