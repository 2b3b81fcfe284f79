// Package entity 定义领域实体
package entity

import (
	"time"
)

// MaxIllustrationRetries 单个插图位置的重试上限，超过后永久跳过
const MaxIllustrationRetries = 5

// IllustrationStatus 插图状态
type IllustrationStatus string

const (
	IllustrationStatusPending   IllustrationStatus = "pending"
	IllustrationStatusCompleted IllustrationStatus = "completed"
	IllustrationStatusFailed    IllustrationStatus = "failed"
)

// Illustration 插图实体，按 (book_id, position) 唯一
//
// 生命周期独立于章节：插图失败不会阻塞或失败文本流水线，
// 书籍完成后仍可以处于 failed 状态并通过批量重试补齐。
type Illustration struct {
	ID           string             `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BookID       string             `json:"book_id" gorm:"type:uuid;not null;uniqueIndex:idx_illustrations_book_pos,priority:1"`
	Position     int                `json:"position" gorm:"not null;uniqueIndex:idx_illustrations_book_pos,priority:2"`
	Prompt       string             `json:"prompt,omitempty" gorm:"type:text"`
	ImageURL     string             `json:"image_url,omitempty" gorm:"type:varchar(1024)"`
	Status       IllustrationStatus `json:"status" gorm:"type:varchar(50);default:'pending';index"`
	RetryCount   int                `json:"retry_count" gorm:"default:0"`
	ErrorMessage string             `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time          `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Illustration) TableName() string {
	return "illustrations"
}

// NewIllustration 创建新插图任务
func NewIllustration(bookID string, position int, prompt string) *Illustration {
	now := time.Now()
	return &Illustration{
		BookID:    bookID,
		Position:  position,
		Prompt:    prompt,
		Status:    IllustrationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete 插图生成成功
func (i *Illustration) Complete(imageURL string) {
	i.Status = IllustrationStatusCompleted
	i.ImageURL = imageURL
	i.ErrorMessage = ""
	i.UpdatedAt = time.Now()
}

// Fail 插图生成失败，累加重试计数
func (i *Illustration) Fail(errMsg string) {
	i.Status = IllustrationStatusFailed
	i.RetryCount++
	i.ErrorMessage = errMsg
	i.UpdatedAt = time.Now()
}

// CanRetry 检查是否仍在重试上限之内
func (i *Illustration) CanRetry(maxRetries int) bool {
	return i.RetryCount < maxRetries
}
