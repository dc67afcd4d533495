package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johan/oddsrelay/internal/types"
)

func TestRedisSnapshot_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := os.Getenv("ODDS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ODDS_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "oddsrelay:test:" + time.Now().Format("150405.000000")
	snap := NewRedisSnapshot(redis.NewClient(&redis.Options{Addr: addr}), key, time.Minute)
	defer snap.Close()

	events, _, err := snap.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty key failed: %v", err)
	}
	if events != nil {
		t.Errorf("Load on empty key = %v, want nil", events)
	}

	in := []types.Event{{ID: "ev1", Status: types.EventLive}}
	if err := snap.Save(ctx, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, savedAt, err := snap.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(out) != 1 || out[0].ID != "ev1" || out[0].Status != types.EventLive {
		t.Errorf("Load = %+v, want ev1 live", out)
	}
	if savedAt.IsZero() {
		t.Error("savedAt not recorded")
	}
}
