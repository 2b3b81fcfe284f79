// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
)

// BookRepository 书籍仓储实现
type BookRepository struct {
	client *Client
}

// NewBookRepository 创建书籍仓储
func NewBookRepository(client *Client) *BookRepository {
	return &BookRepository{client: client}
}

// Create 创建书籍
func (r *BookRepository) Create(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取书籍
func (r *BookRepository) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var book entity.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// Update 更新书籍
func (r *BookRepository) Update(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(book).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update book: %w", err)
	}
	return nil
}

// Delete 删除书籍及其章节与插图
func (r *BookRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.Delete")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("book_id = ?", id).Delete(&entity.Chapter{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book chapters: %w", err)
	}
	if err := db.Where("book_id = ?", id).Delete(&entity.Illustration{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book illustrations: %w", err)
	}
	if err := db.Delete(&entity.Book{}, "id = ?", id).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// ListByOwner 获取用户书籍列表
func (r *BookRepository) ListByOwner(ctx context.Context, ownerID string, filter *repository.BookFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Book], error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.ListByOwner")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.Book{}).Where("owner_id = ?", ownerID)

	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Format != "" {
			query = query.Where("format = ?", filter.Format)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count books: %w", err)
	}

	var books []*entity.Book
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&books).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	return repository.NewPagedResult(books, total, pagination), nil
}

// UpdateStatus 更新书籍状态与错误信息
func (r *BookRepository) UpdateStatus(ctx context.Context, id string, status entity.BookStatus, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.UpdateStatus")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update book status: %w", err)
	}
	return nil
}

// SaveOutline 持久化大纲并进入 generating 状态
// 仅当书籍仍处于 outlining 时生效，保证大纲只写入一次。
func (r *BookRepository) SaveOutline(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.SaveOutline")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Book{}).
		Where("id = ? AND status = ?", book.ID, entity.BookStatusOutlining).
		Updates(map[string]interface{}{
			"status":          entity.BookStatusGenerating,
			"outline":         book.Outline,
			"total_chapters":  book.TotalChapters,
			"character_names": book.CharacterNames,
			"attempt_count":   0,
			"error_message":   "",
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to save outline: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("outline already persisted or book not in outlining status")
	}
	return nil
}

// AdvanceCursor 比较并推进游标
// WHERE current_chapter_index = ? 的条件更新承担了每本书单写者的职责：
// 并发步进只有一个能命中，其余返回 false 作幂等空操作处理。
func (r *BookRepository) AdvanceCursor(ctx context.Context, bookID string, fromIndex int, update repository.ContinuityUpdate) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.AdvanceCursor")
	defer span.End()

	db := getDB(ctx, r.client.db)
	values := map[string]interface{}{
		"current_chapter_index": fromIndex + 1,
		"story_so_far":          update.StorySoFar,
		"character_states":      update.CharacterStates,
		"total_words":           update.TotalWords,
		"attempt_count":         0,
		"error_message":         "",
	}
	if len(update.CharacterNames) > 0 {
		values["character_names"] = pq.StringArray(update.CharacterNames)
	}

	result := db.Model(&entity.Book{}).
		Where("id = ? AND current_chapter_index = ? AND status = ?",
			bookID, fromIndex, entity.BookStatusGenerating).
		Updates(values)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to advance cursor: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkCompleted 定向置完成态
// 只更新状态与完成时间：连续性与字数统计在 AdvanceCursor 里已
// 原子落库，这里不能拿内存中步进前的快照整行覆盖。
func (r *BookRepository) MarkCompleted(ctx context.Context, bookID string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.MarkCompleted")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).
		Where("id = ? AND status = ?", bookID, entity.BookStatusGenerating).
		Updates(map[string]interface{}{
			"status":        entity.BookStatusCompleted,
			"completed_at":  time.Now(),
			"attempt_count": 0,
			"error_message": "",
		}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark book completed: %w", err)
	}
	return nil
}

// RecordStepFailure 自增失败计数并记录错误信息
// 计数在 SQL 内自增，并发失败不会互相覆盖。
func (r *BookRepository) RecordStepFailure(ctx context.Context, bookID, errMsg string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.RecordStepFailure")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).
		Where("id = ? AND status = ?", bookID, entity.BookStatusGenerating).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"error_message": errMsg,
		}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record step failure: %w", err)
	}
	return nil
}

// SetCoverImage 写入封面地址，已有封面时不覆盖
func (r *BookRepository) SetCoverImage(ctx context.Context, bookID, imageURL string) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.SetCoverImage")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).
		Where("id = ? AND (cover_image_url IS NULL OR cover_image_url = '')", bookID).
		Update("cover_image_url", imageURL).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cover image: %w", err)
	}
	return nil
}

// ResetForRestart 硬重置生成状态，保留用户输入字段
func (r *BookRepository) ResetForRestart(ctx context.Context, book *entity.Book) error {
	ctx, span := tracer.Start(ctx, "postgres.BookRepository.ResetForRestart")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Book{}).Where("id = ?", book.ID).Updates(map[string]interface{}{
		"status":                entity.BookStatusPending,
		"current_chapter_index": 0,
		"total_chapters":        0,
		"total_words":           0,
		"outline":               nil,
		"story_so_far":          "",
		"character_states":      nil,
		"character_names":       nil,
		"attempt_count":         0,
		"error_message":         "",
		"cover_image_url":       "",
		"completed_at":          nil,
	}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset book: %w", err)
	}
	return nil
}
