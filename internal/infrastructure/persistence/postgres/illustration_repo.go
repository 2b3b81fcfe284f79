// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"draftmybook/internal/domain/entity"
)

// IllustrationRepository 插图仓储实现
type IllustrationRepository struct {
	client *Client
}

// NewIllustrationRepository 创建插图仓储
func NewIllustrationRepository(client *Client) *IllustrationRepository {
	return &IllustrationRepository{client: client}
}

// CreateIfAbsent 按 (book_id, position) 幂等创建插图任务
func (r *IllustrationRepository) CreateIfAbsent(ctx context.Context, illustration *entity.Illustration) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.CreateIfAbsent")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "position"}},
		DoNothing: true,
	}).Create(illustration)
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, fmt.Errorf("failed to create illustration: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByBookAndPosition 根据书籍和位置获取插图
func (r *IllustrationRepository) GetByBookAndPosition(ctx context.Context, bookID string, position int) (*entity.Illustration, error) {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.GetByBookAndPosition")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var illustration entity.Illustration
	if err := db.Where("book_id = ? AND position = ?", bookID, position).First(&illustration).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get illustration: %w", err)
	}
	return &illustration, nil
}

// ListByBook 获取书籍全部插图（按位置排序）
func (r *IllustrationRepository) ListByBook(ctx context.Context, bookID string) ([]*entity.Illustration, error) {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.ListByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var illustrations []*entity.Illustration
	if err := db.Where("book_id = ?", bookID).
		Order("position ASC").
		Find(&illustrations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list illustrations: %w", err)
	}
	return illustrations, nil
}

// ListFailed 获取书籍全部失败插图（按位置排序）
func (r *IllustrationRepository) ListFailed(ctx context.Context, bookID string) ([]*entity.Illustration, error) {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.ListFailed")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var illustrations []*entity.Illustration
	if err := db.Where("book_id = ? AND status = ?", bookID, entity.IllustrationStatusFailed).
		Order("position ASC").
		Find(&illustrations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list failed illustrations: %w", err)
	}
	return illustrations, nil
}

// Update 更新插图
func (r *IllustrationRepository) Update(ctx context.Context, illustration *entity.Illustration) error {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(illustration).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update illustration: %w", err)
	}
	return nil
}

// DeleteByBook 删除书籍全部插图
func (r *IllustrationRepository) DeleteByBook(ctx context.Context, bookID string) error {
	ctx, span := tracer.Start(ctx, "postgres.IllustrationRepository.DeleteByBook")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("book_id = ?", bookID).Delete(&entity.Illustration{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete illustrations: %w", err)
	}
	return nil
}
