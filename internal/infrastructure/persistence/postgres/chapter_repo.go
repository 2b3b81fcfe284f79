// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"draftmybook/internal/domain/entity"
)

// ChapterRepository 章节仓储实现
type ChapterRepository struct {
	client *Client
}

// NewChapterRepository 创建章节仓储
func NewChapterRepository(client *Client) *ChapterRepository {
	return &ChapterRepository{client: client}
}

// CreateIfAbsent 按 (book_id, seq_num) 幂等创建章节
// ON CONFLICT DO NOTHING 保证重复触发不会产生同序号的第二个章节。
func (r *ChapterRepository) CreateIfAbsent(ctx context.Context, chapter *entity.Chapter) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.CreateIfAbsent")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "seq_num"}},
		DoNothing: true,
	}).Create(chapter)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to create chapter: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByID 根据 ID 获取章节
func (r *ChapterRepository) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var chapter entity.Chapter
	if err := db.First(&chapter, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &chapter, nil
}

// GetByBookAndSeq 根据书籍和序号获取章节
func (r *ChapterRepository) GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.GetByBookAndSeq")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var chapter entity.Chapter
	if err := db.Where("book_id = ? AND seq_num = ?", bookID, seqNum).First(&chapter).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get chapter by book and seq: %w", err)
	}
	return &chapter, nil
}

// ListByBook 获取书籍全部章节（按序号排序）
func (r *ChapterRepository) ListByBook(ctx context.Context, bookID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.ListByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var chapters []*entity.Chapter
	if err := db.Where("book_id = ?", bookID).
		Order("seq_num ASC").
		Find(&chapters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// CountByBook 统计书籍已持久化章节数
func (r *ChapterRepository) CountByBook(ctx context.Context, bookID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.CountByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var count int64
	if err := db.Model(&entity.Chapter{}).Where("book_id = ?", bookID).Count(&count).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count chapters: %w", err)
	}
	return count, nil
}

// SumWordCount 汇总书籍全部章节字数
func (r *ChapterRepository) SumWordCount(ctx context.Context, bookID string) (int, error) {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.SumWordCount")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var total *int
	if err := db.Model(&entity.Chapter{}).
		Where("book_id = ?", bookID).
		Select("SUM(word_count)").
		Scan(&total).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to sum word count: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// UpdatePolished 写入复审润色结果并标记 reviewed，仅对未复审章节生效
func (r *ChapterRepository) UpdatePolished(ctx context.Context, id, content string, wordCount int) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.UpdatePolished")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Chapter{}).
		Where("id = ? AND reviewed = ?", id, false).
		Updates(map[string]interface{}{
			"content":    content,
			"word_count": wordCount,
			"reviewed":   true,
		}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update polished chapter: %w", err)
	}
	return nil
}

// MarkReviewed 标记章节复审完成
func (r *ChapterRepository) MarkReviewed(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.MarkReviewed")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.Chapter{}).Where("id = ?", id).Update("reviewed", true).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark chapter reviewed: %w", err)
	}
	return nil
}

// DeleteByBook 删除书籍全部章节
func (r *ChapterRepository) DeleteByBook(ctx context.Context, bookID string) error {
	ctx, span := tracer.Start(ctx, "postgres.ChapterRepository.DeleteByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("book_id = ?", bookID).Delete(&entity.Chapter{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chapters: %w", err)
	}
	return nil
}
