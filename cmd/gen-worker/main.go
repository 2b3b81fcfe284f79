// Package main 生成执行器入口（gen-worker）
//
// 消费 Redis Streams 上的生成消息：book_claim 触发大纲规划，
// chapter_step 推进章节流水线，illustration_gen 执行插图子流水线。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"draftmybook/internal/config"
	"draftmybook/internal/infrastructure/messaging"
	einoobs "draftmybook/internal/observability/eino"
	"draftmybook/internal/wire"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/tracer"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "gen-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	einoobs.Init()

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	backoff := messaging.BackoffConfig{
		Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
		Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
		Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
	}

	// 章节步进流：认领与逐章推进共用一个消费者组，
	// 保证同一本书的消息按序处理。
	stepConsumer := messaging.NewConsumer(worker.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamBookStep,
		Group:        messaging.ConsumerGroupGenWorker,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
		Backoff:      backoff,
	})

	stepConsumer.RegisterHandler(messaging.TypeBookClaim, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.BookClaimMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return worker.Planner.Plan(ctx, payload.BookID)
	})

	stepConsumer.RegisterHandler(messaging.TypeChapterStep, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.ChapterStepMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return worker.Pipeline.Step(ctx, payload.BookID, payload.ChapterIndex)
	})

	// 插图流：独立消费者组，失败重试不影响章节推进。
	illustrationConsumer := messaging.NewConsumer(worker.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamIllustrationGen,
		Group:        messaging.ConsumerGroupIllustrator,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
		Backoff:      backoff,
	})

	illustrationConsumer.RegisterHandler(messaging.TypeIllustrationGen, func(ctx context.Context, msg *messaging.Message) error {
		var payload messaging.IllustrationJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return worker.Illustrator.Generate(ctx, payload.BookID, payload.Position)
	})

	if err := stepConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start step consumer", err)
	}
	if err := illustrationConsumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start illustration consumer", err)
	}

	log := logger.FromContext(ctx)
	log.Info("gen-worker started", "env", cfg.App.Env)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("gen-worker shutting down")
	illustrationConsumer.Stop()
	stepConsumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
