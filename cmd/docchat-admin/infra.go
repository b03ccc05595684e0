package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/docchat/docchat-go/config"
	"github.com/docchat/docchat-go/internal/bootstrap"
)

var errRedisNotConfigured = errors.New("redis not configured")

// connectDB opens the database connection used by read and admin commands.
func connectDB(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(logger, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// connectInfra wires up the database plus Redis when it is configured.
// Commands that mutate subscriptions want Redis so the cached subscriber set
// is invalidated immediately instead of waiting for its TTL.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectInfra(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, redis.UniversalClient, error) {
	db, err := connectDB(logger, cfg)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := maybeConnectRedis(logger, &cfg.Redis)
	if err != nil {
		if errors.Is(err, errRedisNotConfigured) {
			logger.Info("no redis configuration detected; skipping redis connection")
			return db, nil, nil
		}
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, nil, err
	}

	return db, redisClient, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(logger, *cfg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
