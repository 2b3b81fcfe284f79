//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"draftmybook/internal/application/generation"
	"draftmybook/internal/config"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/llm"
	"draftmybook/internal/infrastructure/messaging"
	"draftmybook/internal/infrastructure/persistence/postgres"
	"draftmybook/internal/infrastructure/persistence/redis"
	"draftmybook/internal/interfaces/http/handler"
	"draftmybook/internal/interfaces/http/router"
)

// InitializeApp 初始化 API 网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		PostgresSet,
		RedisSet,
		MessagingSet,
		GenerationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化生成执行器依赖
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		PostgresSet,
		RedisSet,
		MessagingSet,
		GenerationSet,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewBookRepository,
	postgres.NewChapterRepository,
	postgres.NewIllustrationRepository,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.BookRepository), new(*postgres.BookRepository)),
	wire.Bind(new(repository.ChapterRepository), new(*postgres.ChapterRepository)),
	wire.Bind(new(repository.IllustrationRepository), new(*postgres.IllustrationRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	ProvidePreviewBuffer,
	wire.Bind(new(generation.PreviewWriter), new(*redis.PreviewBuffer)),
	wire.Bind(new(generation.CacheInvalidator), new(*redis.Cache)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	wire.Bind(new(generation.Publisher), new(*messaging.Producer)),
)

// GenerationSet 生成组件提供者集合
var GenerationSet = wire.NewSet(
	llm.NewEinoFactory,
	llm.NewImageClient,
	generation.NewLLMClient,
	wire.Bind(new(generation.Client), new(*generation.LLMClient)),
	generation.NewPlanner,
	generation.NewPipeline,
	generation.NewIllustrator,
	generation.NewLifecycle,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewBookHandler,
	handler.NewGenerationHandler,
	handler.NewIllustrationHandler,
	handler.NewAdminHandler,
	wire.Struct(new(router.Handlers), "*"),
	ProvideRateLimitMiddleware,
	router.New,
)
