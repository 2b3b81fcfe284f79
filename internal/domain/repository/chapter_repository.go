// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"draftmybook/internal/domain/entity"
)

// ChapterRepository 章节仓储接口
type ChapterRepository interface {
	// CreateIfAbsent 按 (book_id, seq_num) 幂等创建章节。
	// 已存在时返回 false 且不做任何修改，这是章节步进的幂等键。
	CreateIfAbsent(ctx context.Context, chapter *entity.Chapter) (bool, error)

	// GetByID 根据 ID 获取章节
	GetByID(ctx context.Context, id string) (*entity.Chapter, error)

	// GetByBookAndSeq 根据书籍和序号获取章节
	GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.Chapter, error)

	// ListByBook 获取书籍全部章节（按序号排序）
	ListByBook(ctx context.Context, bookID string) ([]*entity.Chapter, error)

	// CountByBook 统计书籍已持久化章节数
	CountByBook(ctx context.Context, bookID string) (int64, error)

	// SumWordCount 汇总书籍全部章节字数
	SumWordCount(ctx context.Context, bookID string) (int, error)

	// UpdatePolished 写入复审润色结果并标记 reviewed，仅对未复审章节生效
	UpdatePolished(ctx context.Context, id, content string, wordCount int) error

	// MarkReviewed 标记章节复审完成
	MarkReviewed(ctx context.Context, id string) error

	// DeleteByBook 删除书籍全部章节（Restart 专用）
	DeleteByBook(ctx context.Context, bookID string) error
}
