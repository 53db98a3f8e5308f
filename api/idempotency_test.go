package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestRedisDeduperAddAndRemove(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("first add: %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "user", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}
	if ttl := m.TTL("idem:user:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	if err := deduper.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := deduper.Add(ctx, "user", "k1"); !added {
		t.Fatal("expected key to be accepted after remove")
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if added, _ := deduper.Add(ctx, "alice", "k"); !added {
		t.Fatal("alice add failed")
	}
	if added, _ := deduper.Add(ctx, "bob", "k"); !added {
		t.Fatal("keys must be scoped per user")
	}
}

func TestRedisDeduperExpires(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	_, _ = deduper.Add(ctx, "user", "k")
	m.FastForward(2 * time.Minute)
	if added, _ := deduper.Add(ctx, "user", "k"); !added {
		t.Fatal("expected key to expire")
	}
}

func TestRedisStateStore(t *testing.T) {
	m, client := newTestRedis(t)
	states := NewRedisStateStore(client, 0)
	ctx := context.Background()

	if err := states.Save(ctx, "abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := m.TTL(stateKey("abc")); ttl != oauthStateTTL {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	ok, err := states.Consume(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("consume: %v %v", ok, err)
	}
	if ok, _ := states.Consume(ctx, "abc"); ok {
		t.Fatal("state must be single use")
	}
	if ok, _ := states.Consume(ctx, "unknown"); ok {
		t.Fatal("unknown state accepted")
	}
}

func TestRedisStateStoreError(t *testing.T) {
	m, client := newTestRedis(t)
	states := NewRedisStateStore(client, time.Second)
	m.Close()

	if _, err := states.Consume(context.Background(), "abc"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
