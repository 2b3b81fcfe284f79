// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"draftmybook/internal/domain/entity"
)

// ContinuityUpdate 一次章节步进要原子落库的连续性状态
type ContinuityUpdate struct {
	StorySoFar      string
	CharacterStates *entity.CharacterStateDoc
	CharacterNames  []string
	TotalWords      int
}

// BookFilter 书籍过滤条件
type BookFilter struct {
	Status entity.BookStatus
	Format entity.BookFormat
}

// BookRepository 书籍仓储接口
type BookRepository interface {
	// Create 创建书籍
	Create(ctx context.Context, book *entity.Book) error

	// GetByID 根据 ID 获取书籍
	GetByID(ctx context.Context, id string) (*entity.Book, error)

	// Update 更新书籍
	Update(ctx context.Context, book *entity.Book) error

	// Delete 删除书籍（级联删除章节与插图由仓储实现保证）
	Delete(ctx context.Context, id string) error

	// ListByOwner 获取用户书籍列表
	ListByOwner(ctx context.Context, ownerID string, filter *BookFilter, pagination Pagination) (*PagedResult[*entity.Book], error)

	// UpdateStatus 更新书籍状态与错误信息
	UpdateStatus(ctx context.Context, id string, status entity.BookStatus, errMsg string) error

	// SaveOutline 持久化大纲并进入 generating 状态，只在 outlining 状态下生效
	SaveOutline(ctx context.Context, book *entity.Book) error

	// AdvanceCursor 比较并推进游标：仅当数据库中游标仍为 fromIndex 时，
	// 原子写入连续性状态并把游标推进到 fromIndex+1。返回 false 表示
	// 并发步进已经先行完成，调用方应按幂等空操作处理。
	AdvanceCursor(ctx context.Context, bookID string, fromIndex int, update ContinuityUpdate) (bool, error)

	// MarkCompleted 定向置完成态，只写状态与完成时间。连续性与字数
	// 统计以最后一次 AdvanceCursor 的落库结果为准，不整行回写。
	MarkCompleted(ctx context.Context, bookID string) error

	// RecordStepFailure 在数据库内自增步进失败计数并记录错误信息
	RecordStepFailure(ctx context.Context, bookID, errMsg string) error

	// SetCoverImage 写入封面地址，已存在时不覆盖
	SetCoverImage(ctx context.Context, bookID, imageURL string) error

	// ResetForRestart 硬重置生成状态，保留用户输入字段
	ResetForRestart(ctx context.Context, book *entity.Book) error
}
