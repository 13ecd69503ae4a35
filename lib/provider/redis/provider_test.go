package redis

import (
	"context"
	"os"
	"testing"

	"github.com/ValentinKolb/dLock/lib/provider"
	providertesting "github.com/ValentinKolb/dLock/lib/provider/testing"
	"github.com/redis/go-redis/v9"
)

func TestKeyify(t *testing.T) {
	// Fixed width, scheme-safe output.
	for _, name := range []string{"", "a", "resource:42", "dlock:req:*", "päth/injection"} {
		key := keyify(name)
		if len(key) != 16 {
			t.Errorf("keyify(%q) = %q, want 16 hex chars", name, key)
		}
		for _, c := range key {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				t.Errorf("keyify(%q) produced non-hex rune %q", name, c)
			}
		}
	}

	// Distinct names map to distinct keys (no structural collisions with
	// the separator characters of the key scheme).
	if keyify("a:b") == keyify("a") || keyify("a:b") == keyify("b") {
		t.Errorf("keyify collides on separator-containing names")
	}
}

// TestRedisProviderConformance runs the conformance suite against a real
// Redis. It is skipped unless DLOCK_TEST_REDIS_ADDR is set (e.g.
// "localhost:6379").
func TestRedisProviderConformance(t *testing.T) {
	addr := os.Getenv("DLOCK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DLOCK_TEST_REDIS_ADDR not set")
	}

	providertesting.RunProviderTests(t, "redis", func(t *testing.T) (provider.ILockProvider, provider.ILockProvider) {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("failed to flush test database: %v", err)
		}
		// Two provider instances over one client model two hosts.
		return NewRedisLockProvider(client), NewRedisLockProvider(client)
	})
}
