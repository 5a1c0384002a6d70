package factory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFromEnv_SQLite(t *testing.T) {
	t.Setenv("CAMPAIGN_STATE_BACKEND", "sqlite")
	t.Setenv("CAMPAIGN_SQLITE_PATH", filepath.Join(t.TempDir(), "state.db"))

	s, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv sqlite failed: %v", err)
	}
	if s == nil {
		t.Fatalf("expected sqlite store")
	}
	defer s.Close()
}

func TestFromEnv_RedisUnavailable(t *testing.T) {
	t.Setenv("CAMPAIGN_STATE_BACKEND", "redis")
	t.Setenv("CAMPAIGN_REDIS_ADDR", "127.0.0.1:1")

	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestFromEnv_InvalidBackend(t *testing.T) {
	t.Setenv("CAMPAIGN_STATE_BACKEND", "nope")
	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatalf("expected error for invalid backend")
	}
}
