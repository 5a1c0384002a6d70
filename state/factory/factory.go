package factory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/state"
	redisstore "github.com/PipeOpsHQ/campaign-engine/state/redis"
	sqlitestore "github.com/PipeOpsHQ/campaign-engine/state/sqlite"
)

const DefaultSQLitePath = "./.campaign-engine/state.db"

func FromEnv(ctx context.Context) (state.Store, error) {
	_ = ctx

	backend := strings.ToLower(strings.TrimSpace(getenv("CAMPAIGN_STATE_BACKEND", "sqlite")))
	switch backend {
	case "sqlite":
		return sqlitestore.New(getenv("CAMPAIGN_SQLITE_PATH", DefaultSQLitePath))

	case "redis":
		addr := getenv("CAMPAIGN_REDIS_ADDR", "127.0.0.1:6379")
		password := strings.TrimSpace(os.Getenv("CAMPAIGN_REDIS_PASSWORD"))
		db := getenvInt("CAMPAIGN_REDIS_DB", 0)
		return redisstore.New(addr,
			redisstore.WithPassword(password),
			redisstore.WithDB(db),
		)

	default:
		return nil, fmt.Errorf("unsupported CAMPAIGN_STATE_BACKEND %q (use sqlite or redis)", backend)
	}
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
