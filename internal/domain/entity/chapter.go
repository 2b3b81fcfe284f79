// Package entity 定义领域实体
package entity

import (
	"time"
)

// Chapter 章节实体
//
// 只由章节流水线创建，(book_id, seq_num) 唯一。一旦标记 reviewed
// 即视为不可变；Resume/Restart 绝不会回退已计入游标的章节。
type Chapter struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BookID    string    `json:"book_id" gorm:"type:uuid;not null;uniqueIndex:idx_chapters_book_seq,priority:1"`
	SeqNum    int       `json:"seq_num" gorm:"not null;uniqueIndex:idx_chapters_book_seq,priority:2"`
	Title     string    `json:"title,omitempty" gorm:"type:varchar(255)"`
	Content   string    `json:"content,omitempty" gorm:"type:text"`
	WordCount int       `json:"word_count" gorm:"default:0"`
	Reviewed  bool      `json:"reviewed" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// NewChapter 创建新章节
func NewChapter(bookID string, seqNum int, title, content string, wordCount int) *Chapter {
	now := time.Now()
	return &Chapter{
		BookID:    bookID,
		SeqNum:    seqNum,
		Title:     title,
		Content:   content,
		WordCount: wordCount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkReviewed 标记复审完成，之后内容不再改动
func (c *Chapter) MarkReviewed() {
	c.Reviewed = true
	c.UpdatedAt = time.Now()
}

// ApplyPolish 应用复审润色后的内容，仅在未复审时生效
func (c *Chapter) ApplyPolish(content string, wordCount int) {
	if c.Reviewed {
		return
	}
	c.Content = content
	c.WordCount = wordCount
	c.UpdatedAt = time.Now()
}
