package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aihub/retrieval-go/internal/config"
	"github.com/aihub/retrieval-go/internal/logger"
)

var RedisClient *redis.Client

// InitRedis 建立Redis连接，配置未启用时返回nil
func InitRedis() (*redis.Client, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		DB:   cfg.Redis.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	RedisClient = rdb
	logger.Info("Redis连接成功")
	return rdb, nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient == nil {
		return nil
	}
	return RedisClient.Close()
}
