package database

import (
	"context"
	"fmt"
	"time"

	"github.com/batchplant/platform/pkg/common/config"
	"github.com/batchplant/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// OpenRedis returns a client only once the server has answered a ping, so
// callers that need the lock never start against a dead Redis.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", client.Options().Addr, err)
	}

	logger.Log.WithField("addr", client.Options().Addr).Info("Connected to Redis")
	return client, nil
}
