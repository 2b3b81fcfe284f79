// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"draftmybook/internal/domain/entity"
)

// ChapterResponse 章节响应
type ChapterResponse struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	SeqNum    int       `json:"seq_num"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	WordCount int       `json:"word_count"`
	Reviewed  bool      `json:"reviewed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToChapterResponse 实体转响应
func ToChapterResponse(chapter *entity.Chapter, withContent bool) *ChapterResponse {
	if chapter == nil {
		return nil
	}
	resp := &ChapterResponse{
		ID:        chapter.ID,
		BookID:    chapter.BookID,
		SeqNum:    chapter.SeqNum,
		Title:     chapter.Title,
		WordCount: chapter.WordCount,
		Reviewed:  chapter.Reviewed,
		CreatedAt: chapter.CreatedAt,
		UpdatedAt: chapter.UpdatedAt,
	}
	if withContent {
		resp.Content = chapter.Content
	}
	return resp
}

// ChapterListResponse 章节列表响应
type ChapterListResponse struct {
	Chapters []*ChapterResponse `json:"chapters"`
}

// ToChapterListResponse 实体列表转响应（列表不带正文）
func ToChapterListResponse(chapters []*entity.Chapter) *ChapterListResponse {
	out := make([]*ChapterResponse, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, ToChapterResponse(ch, false))
	}
	return &ChapterListResponse{Chapters: out}
}
