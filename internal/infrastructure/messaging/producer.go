// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishBookClaim 发布书籍认领消息（支付确认或免费额度触发）
func (p *Producer) PublishBookClaim(ctx context.Context, claim *BookClaimMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeBookClaim, claim.BookID, claim)
	if err != nil {
		return "", err
	}

	return p.Publish(ctx, StreamBookStep, msg)
}

// PublishChapterStep 发布章节步进消息
// 消息本身不携带章节内容，消费侧以数据库游标为准，重复投递是安全的。
func (p *Producer) PublishChapterStep(ctx context.Context, step *ChapterStepMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeChapterStep, step.BookID, step)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("idempotency_key", fmt.Sprintf("%s:%d", step.BookID, step.ChapterIndex))
	return p.Publish(ctx, StreamBookStep, msg)
}

// PublishIllustrationJob 发布插图生成消息
func (p *Producer) PublishIllustrationJob(ctx context.Context, job *IllustrationJobMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeIllustrationGen, job.BookID, job)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("idempotency_key", fmt.Sprintf("%s:%d", job.BookID, job.Position))
	return p.Publish(ctx, StreamIllustrationGen, msg)
}

// BookClaimMessage 书籍认领消息
type BookClaimMessage struct {
	BookID string `json:"book_id"`
	UserID string `json:"user_id,omitempty"`
}

// ChapterStepMessage 章节步进消息
type ChapterStepMessage struct {
	BookID       string `json:"book_id"`
	ChapterIndex int    `json:"chapter_index"`
}

// IllustrationJobMessage 插图生成消息
type IllustrationJobMessage struct {
	BookID   string `json:"book_id"`
	Position int    `json:"position"`
}
