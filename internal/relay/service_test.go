package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/johan/oddsrelay/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = freeAddr(t)
	cfg.Server.Mode = "test"
	cfg.Feed.Seed = 1
	cfg.Cron.Status = ""
	return cfg
}

func TestNewService_UnknownFeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Type = "carrier-pigeon"

	if _, err := NewService(cfg, nil); err == nil {
		t.Error("expected error for unknown feed type")
	}
}

func TestNewService_UnknownStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "tape"

	if _, err := NewService(cfg, nil); err == nil {
		t.Error("expected error for unknown storage type")
	}
}

func TestNewService_FileJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "file"
	cfg.Storage.OutputDir = t.TempDir()

	svc, err := NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestService_RunPullsAndStops(t *testing.T) {
	cfg := testConfig(t)

	svc, err := NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for svc.Store().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.Store().Len() == 0 {
		t.Error("initial pull did not populate the store")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
