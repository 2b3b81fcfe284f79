// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"draftmybook/internal/domain/entity"
)

// IllustrationRepository 插图仓储接口
type IllustrationRepository interface {
	// CreateIfAbsent 按 (book_id, position) 幂等创建插图任务
	CreateIfAbsent(ctx context.Context, illustration *entity.Illustration) (bool, error)

	// GetByBookAndPosition 根据书籍和位置获取插图
	GetByBookAndPosition(ctx context.Context, bookID string, position int) (*entity.Illustration, error)

	// ListByBook 获取书籍全部插图（按位置排序）
	ListByBook(ctx context.Context, bookID string) ([]*entity.Illustration, error)

	// ListFailed 获取书籍全部失败插图（按位置排序）
	ListFailed(ctx context.Context, bookID string) ([]*entity.Illustration, error)

	// Update 更新插图
	Update(ctx context.Context, illustration *entity.Illustration) error

	// DeleteByBook 删除书籍全部插图（Restart 专用）
	DeleteByBook(ctx context.Context, bookID string) error
}
