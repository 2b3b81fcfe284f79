// Package redis 提供 Redis 缓存实现
package redis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PreviewBuffer 实时预览缓冲
//
// 单写者（当前章节步进）写入，任意数量的轮询读者读取。
// 只承诺最终可见，不承诺持久：进程重启后预览丢失是预期行为。
type PreviewBuffer struct {
	client *Client
	ttl    time.Duration
}

// NewPreviewBuffer 创建预览缓冲
func NewPreviewBuffer(client *Client, ttl time.Duration) *PreviewBuffer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PreviewBuffer{client: client, ttl: ttl}
}

func previewKey(bookID string) string {
	return fmt.Sprintf("book:preview:%s", bookID)
}

// Write 覆盖写入书籍的预览内容
func (p *PreviewBuffer) Write(ctx context.Context, bookID, text string) error {
	ctx, span := cacheTracer.Start(ctx, "preview.Write",
		trace.WithAttributes(attribute.String("book.id", bookID)))
	defer span.End()

	err := p.client.rdb.Set(ctx, previewKey(bookID), text, p.ttl).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Read 读取书籍的预览内容，缓冲不存在时返回空串
func (p *PreviewBuffer) Read(ctx context.Context, bookID string) (string, error) {
	ctx, span := cacheTracer.Start(ctx, "preview.Read",
		trace.WithAttributes(attribute.String("book.id", bookID)))
	defer span.End()

	val, err := p.client.rdb.Get(ctx, previewKey(bookID)).Result()
	if err != nil {
		if IsNil(err) {
			return "", nil
		}
		span.RecordError(err)
		return "", err
	}
	return val, nil
}

// Clear 清空书籍的预览缓冲
func (p *PreviewBuffer) Clear(ctx context.Context, bookID string) error {
	ctx, span := cacheTracer.Start(ctx, "preview.Clear",
		trace.WithAttributes(attribute.String("book.id", bookID)))
	defer span.End()

	return p.client.rdb.Del(ctx, previewKey(bookID)).Err()
}
