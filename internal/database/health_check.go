package database

import (
	"context"
	"time"
)

// ComponentHealth 单个依赖的健康状态
type ComponentHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth 探测核心依赖的连通性，供健康检查端点使用
func CheckHealth(ctx context.Context) []ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var out []ComponentHealth
	out = append(out, checkPostgres(ctx))
	if RedisClient != nil {
		out = append(out, checkRedis(ctx))
	}
	return out
}

func checkPostgres(ctx context.Context) ComponentHealth {
	health := ComponentHealth{Name: "postgres"}
	if DB == nil {
		health.Error = "not initialized"
		return health
	}

	start := time.Now()
	sqlDB, err := DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	health.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.Healthy = true
	return health
}

func checkRedis(ctx context.Context) ComponentHealth {
	health := ComponentHealth{Name: "redis"}
	start := time.Now()
	err := RedisClient.Ping(ctx).Err()
	health.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.Healthy = true
	return health
}
