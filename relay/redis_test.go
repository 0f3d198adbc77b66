package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/tabsync/storage"
)

func newRedisRelayTest(t *testing.T) (*storage.RedisHub, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return storage.NewRedisHub(rdb, "relaytest"), func() {
		rdb.Close()
		mr.Close()
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayOverRedisHub(t *testing.T) {
	hub, done := newRedisRelayTest(t)
	defer done()
	ctx := context.Background()

	a := New(hub.Open("a"), storage.NewSessionStore(), Config{Origin: "a", HandshakeGrace: testGrace})
	defer a.Close()
	if err := a.EnsureStarted(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := a.SaveSyncedSessionData(ctx, "access_token", "abc"); err != nil {
		t.Fatalf("save: %v", err)
	}

	b := New(hub.Open("b"), storage.NewSessionStore(), Config{Origin: "b", HandshakeGrace: time.Second})
	defer b.Close()
	if err := b.EnsureStarted(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	waitReady(t, b)

	if v, ok := getString(t, b, "access_token"); !ok || v != "abc" {
		t.Fatalf("handshake did not copy token, got %q ok=%v", v, ok)
	}

	if err := b.DeleteData(ctx, "access_token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	eventually(t, "remote delete", func() bool {
		ok, err := a.Exists(ctx, "access_token")
		return err == nil && !ok
	})
}
