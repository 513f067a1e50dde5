package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestStore starts a single-node store on port and closes it when the
// test ends.
func newTestStore(t *testing.T, port int) *OlricStore {
	t.Helper()

	cfg := NewDefaultOlricConfig()
	cfg.BindAddr = "127.0.0.1"
	cfg.BindPort = port
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewOlricStore(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := s.Close(shutdownCtx); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func TestOlricStore_SingleNode(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newTestStore(t, 13320)
	ctx := context.Background()

	if err := s.Put(ctx, "accounts.txt", "alice|pw|700|1|2024-01-01 00:00:00\n", 0); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get(ctx, "accounts.txt")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "alice|pw|700|1|2024-01-01 00:00:00\n" {
		t.Errorf("Get() = %q", got)
	}

	exists, err := s.Exists(ctx, "accounts.txt")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v; want true, nil", exists, err)
	}

	if err := s.Delete(ctx, "accounts.txt"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, "accounts.txt"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrKeyNotFound", err)
	}

	// Deleting again is not an error.
	if err := s.Delete(ctx, "accounts.txt"); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}
}

func TestOlricStore_TTL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newTestStore(t, 13321)
	ctx := context.Background()

	if err := s.Put(ctx, "ttl-key", "ttl-value", 2*time.Second); err != nil {
		t.Fatalf("Put() with TTL failed: %v", err)
	}

	time.Sleep(3 * time.Second)

	exists, err := s.Exists(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Exists() after TTL failed: %v", err)
	}
	if exists {
		t.Error("Exists() after TTL expiry = true, want false")
	}
}

func TestOlricStore_PingAndStats(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newTestStore(t, 13322)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.ClusterMembers != 1 {
		t.Errorf("Stats().ClusterMembers = %d, want 1", stats.ClusterMembers)
	}
	if stats.PartitionCount != DefaultPartitionCount {
		t.Errorf("Stats().PartitionCount = %d, want %d", stats.PartitionCount, DefaultPartitionCount)
	}
}

func TestNewOlricStore_InvalidConfig(t *testing.T) {
	cfg := NewDefaultOlricConfig()
	cfg.DMapName = ""

	if _, err := NewOlricStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("NewOlricStore() with invalid config should fail")
	}
}
