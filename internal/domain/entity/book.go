// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// BookStatus 书籍生成状态
type BookStatus string

const (
	BookStatusPending    BookStatus = "pending"
	BookStatusOutlining  BookStatus = "outlining"
	BookStatusGenerating BookStatus = "generating"
	BookStatusCompleted  BookStatus = "completed"
	BookStatusFailed     BookStatus = "failed"
)

// BookFormat 书籍形式
type BookFormat string

const (
	FormatNovel       BookFormat = "novel"
	FormatPictureBook BookFormat = "picture_book"
	FormatComic       BookFormat = "comic"
	FormatScreenplay  BookFormat = "screenplay"
)

// PaymentStatus 支付状态，由外部支付服务回调写入
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFree   PaymentStatus = "free"
)

// OutlineDoc 大纲文档，由规划器一次性写入，此后只读
type OutlineDoc struct {
	Version  int           `json:"version"`
	Chapters []ChapterSpec `json:"chapters"`
}

// ChapterSpec 单章规格
type ChapterSpec struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	TargetWords  int    `json:"target_words"`
	POVCharacter string `json:"pov_character,omitempty"`
}

// CharacterState 单个角色的连续性状态
type CharacterState struct {
	LastSeenChapter int      `json:"last_seen_chapter"`
	Status          string   `json:"status"`
	Knowledge       []string `json:"knowledge,omitempty"`
	Goal            string   `json:"goal,omitempty"`
}

// CharacterStateDoc 角色状态文档，每章生成后整体替换
type CharacterStateDoc struct {
	Version int                       `json:"version"`
	States  map[string]CharacterState `json:"states"`
}

// Book 书籍聚合根
//
// 用户输入字段在创建后不可变；生成状态字段只由章节流水线在
// 单写者约束下推进。CurrentChapterIndex 始终等于已持久化章节数。
type Book struct {
	ID      string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerID string `json:"owner_id" gorm:"type:uuid;index;not null"`

	// 用户输入
	Title              string        `json:"title" gorm:"type:varchar(255);not null"`
	Genre              string        `json:"genre,omitempty" gorm:"type:varchar(100)"`
	Premise            string        `json:"premise" gorm:"type:text"`
	CharactersText     string        `json:"characters_text,omitempty" gorm:"type:text"`
	Beginning          string        `json:"beginning,omitempty" gorm:"type:text"`
	Middle             string        `json:"middle,omitempty" gorm:"type:text"`
	Ending             string        `json:"ending,omitempty" gorm:"type:text"`
	TargetWordCount    int           `json:"target_word_count" gorm:"default:0"`
	TargetChapterCount int           `json:"target_chapter_count" gorm:"default:0"`
	Format             BookFormat    `json:"format" gorm:"type:varchar(50);default:'novel'"`
	PaymentStatus      PaymentStatus `json:"payment_status" gorm:"type:varchar(50);default:'unpaid'"`

	// 生成状态
	Status              BookStatus         `json:"status" gorm:"type:varchar(50);default:'pending';index"`
	CurrentChapterIndex int                `json:"current_chapter_index" gorm:"default:0"`
	TotalChapters       int                `json:"total_chapters" gorm:"default:0"`
	TotalWords          int                `json:"total_words" gorm:"default:0"`
	Outline             *OutlineDoc        `json:"outline,omitempty" gorm:"type:jsonb;serializer:json"`
	StorySoFar          string             `json:"story_so_far,omitempty" gorm:"type:text"`
	CharacterStates     *CharacterStateDoc `json:"character_states,omitempty" gorm:"type:jsonb;serializer:json"`
	CharacterNames      pq.StringArray     `json:"character_names,omitempty" gorm:"type:text[]"`
	AttemptCount        int                `json:"attempt_count" gorm:"default:0"`
	ErrorMessage        string             `json:"error_message,omitempty" gorm:"type:text"`
	CoverImageURL       string             `json:"cover_image_url,omitempty" gorm:"type:varchar(1024)"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Book) TableName() string {
	return "books"
}

// NewBook 创建新书籍
func NewBook(ownerID, title string, format BookFormat) *Book {
	now := time.Now()
	return &Book{
		OwnerID:       ownerID,
		Title:         title,
		Format:        format,
		PaymentStatus: PaymentStatusUnpaid,
		Status:        BookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CanClaim 检查书籍是否可以开始生成
func (b *Book) CanClaim() bool {
	return b.Status == BookStatusPending &&
		(b.PaymentStatus == PaymentStatusPaid || b.PaymentStatus == PaymentStatusFree)
}

// BeginOutline 进入大纲生成阶段 (pending -> outlining)
func (b *Book) BeginOutline() {
	b.Status = BookStatusOutlining
	b.ErrorMessage = ""
	b.UpdatedAt = time.Now()
}

// BeginGenerating 进入章节生成阶段 (outlining -> generating)
func (b *Book) BeginGenerating(outline *OutlineDoc) {
	b.Status = BookStatusGenerating
	b.Outline = outline
	b.TotalChapters = len(outline.Chapters)
	b.AttemptCount = 0
	b.UpdatedAt = time.Now()
}

// Complete 所有章节生成完毕 (generating -> completed)
func (b *Book) Complete() {
	now := time.Now()
	b.Status = BookStatusCompleted
	b.CompletedAt = &now
	b.UpdatedAt = now
}

// Fail 书籍生成失败，记录错误信息
func (b *Book) Fail(errMsg string) {
	b.Status = BookStatusFailed
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now()
}

// RecordStepFailure 记录当前章节的一次失败尝试
func (b *Book) RecordStepFailure(errMsg string) {
	b.AttemptCount++
	b.ErrorMessage = errMsg
	b.UpdatedAt = time.Now()
}

// CanRetryStep 检查当前章节是否还有重试预算
func (b *Book) CanRetryStep(maxAttempts int) bool {
	return b.AttemptCount < maxAttempts
}

// Resume 从失败或中断状态回到生成状态，不触碰游标与已有章节
func (b *Book) Resume() {
	b.Status = BookStatusGenerating
	b.ErrorMessage = ""
	b.AttemptCount = 0
	b.UpdatedAt = time.Now()
}

// ResetForRestart 硬重置：清空全部生成状态，保留用户输入与支付状态
func (b *Book) ResetForRestart() {
	b.Status = BookStatusPending
	b.CurrentChapterIndex = 0
	b.TotalChapters = 0
	b.TotalWords = 0
	b.Outline = nil
	b.StorySoFar = ""
	b.CharacterStates = nil
	b.CharacterNames = nil
	b.AttemptCount = 0
	b.ErrorMessage = ""
	b.CoverImageURL = ""
	b.CompletedAt = nil
	b.UpdatedAt = time.Now()
}

// IsIllustrated 检查书籍形式是否带插图
func (b *Book) IsIllustrated() bool {
	return b.Format == FormatPictureBook || b.Format == FormatComic
}

// IsFinished 检查游标是否走完全部章节
func (b *Book) IsFinished() bool {
	return b.TotalChapters > 0 && b.CurrentChapterIndex >= b.TotalChapters
}

// ChapterSpecAt 返回指定下标的章节规格
func (b *Book) ChapterSpecAt(index int) (ChapterSpec, bool) {
	if b.Outline == nil || index < 0 || index >= len(b.Outline.Chapters) {
		return ChapterSpec{}, false
	}
	return b.Outline.Chapters[index], true
}

// StateMap 返回当前角色状态映射，文档为空时返回空映射
func (b *Book) StateMap() map[string]CharacterState {
	if b.CharacterStates == nil {
		return map[string]CharacterState{}
	}
	return b.CharacterStates.States
}
