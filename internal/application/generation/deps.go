package generation

import (
	"context"

	"draftmybook/internal/infrastructure/messaging"
)

// Publisher 生成消息发布接口，由 Redis Streams 生产者实现
type Publisher interface {
	PublishBookClaim(ctx context.Context, claim *messaging.BookClaimMessage) (string, error)
	PublishChapterStep(ctx context.Context, step *messaging.ChapterStepMessage) (string, error)
	PublishIllustrationJob(ctx context.Context, job *messaging.IllustrationJobMessage) (string, error)
}

// PreviewWriter 实时预览写入接口
type PreviewWriter interface {
	Write(ctx context.Context, bookID, text string) error
	Clear(ctx context.Context, bookID string) error
}

// CacheInvalidator 书籍缓存失效接口
type CacheInvalidator interface {
	InvalidateBook(ctx context.Context, bookID string) error
}
