// Package wire 提供依赖注入配置
package wire

import (
	"draftmybook/internal/application/generation"
	"draftmybook/internal/config"
	"draftmybook/internal/infrastructure/persistence/redis"
)

// Worker 生成执行器依赖容器
//
// gen-worker 不挂 HTTP 路由，只需要流水线组件与 Redis 客户端
// （消费者在 main 里按流注册）。
type Worker struct {
	Cfg         *config.Config
	RedisClient *redis.Client
	Planner     *generation.Planner
	Pipeline    *generation.Pipeline
	Illustrator *generation.Illustrator
}
