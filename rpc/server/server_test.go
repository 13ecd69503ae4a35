package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
)

// startTestServer spins up a server on a unix socket and waits until it
// accepts connections.
func startTestServer(t *testing.T) string {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "dlock.sock")
	config := common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: 100, Provider: "memory"}},
		TimeoutSecond: 0, // lock requests may block arbitrarily long
		LogLevel:      "error",
		Transport: common.ServerTransportConfig{
			Endpoint: socket,
		},
	}

	srv := NewRPCServer(config, unix.NewUnixServerTransport(), serializer.NewJSONSerializer())
	go func() {
		if err := srv.Serve(); err != nil {
			t.Errorf("server stopped: %v", err)
		}
	}()

	// Wait for the socket to come up.
	for i := 0; i < 100; i++ {
		if conn, err := net.Dial("unix", socket); err == nil {
			_ = conn.Close()
			return socket
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never came up on %s", socket)
	return ""
}

func newTestClient(t *testing.T, socket string) client.ILockClient {
	t.Helper()

	config := common.ClientConfig{
		TimeoutSecond: 0,
		Transport: common.ClientTransportConfig{
			Endpoints: []string{socket},
		},
	}

	c, err := client.NewRPCLockClient(100, config, unix.NewUnixClientTransport(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestServerEndToEnd exercises the full stack: client, serializer, unix
// transport, server, adapter, lock manager.
func TestServerEndToEnd(t *testing.T) {
	socket := startTestServer(t)

	c1 := newTestClient(t, socket)
	c2 := newTestClient(t, socket)

	// Client 1 acquires.
	lease, err := c1.AcquireLock("L", "c1", 10)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if lease == "" {
		t.Fatalf("no lease ID returned")
	}

	// Client 2 cannot.
	ok, _, err := c2.TryAcquireLock("L", "c2", 0)
	if err != nil {
		t.Fatalf("try-acquire failed: %v", err)
	}
	if ok {
		t.Fatalf("second client acquired a held lock")
	}

	// Client 1 releases, client 2 succeeds.
	released, err := c1.ReleaseLock("L", lease)
	if err != nil || !released {
		t.Fatalf("release failed: ok=%v err=%v", released, err)
	}

	lease2, err := c2.AcquireLock("L", "c2", 10)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	if _, err := c2.ReleaseLock("L", lease2); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

// TestServerUnknownShard verifies the error surface for unconfigured
// shards.
func TestServerUnknownShard(t *testing.T) {
	socket := startTestServer(t)

	config := common.ClientConfig{
		Transport: common.ClientTransportConfig{
			Endpoints: []string{socket},
		},
	}
	c, err := client.NewRPCLockClient(999, config, unix.NewUnixClientTransport(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	if _, err := c.AcquireLock("L", "c", 0); err == nil {
		t.Fatalf("acquire on unknown shard succeeded")
	}
}
