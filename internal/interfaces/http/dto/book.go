// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"draftmybook/internal/domain/entity"
)

// CreateBookRequest 创建书籍请求
type CreateBookRequest struct {
	Title              string `json:"title" binding:"required,max=255"`
	Genre              string `json:"genre,omitempty" binding:"max=100"`
	Premise            string `json:"premise" binding:"required"`
	Characters         string `json:"characters,omitempty"`
	Beginning          string `json:"beginning,omitempty"`
	Middle             string `json:"middle,omitempty"`
	Ending             string `json:"ending,omitempty"`
	TargetWordCount    int    `json:"target_word_count" binding:"required,min=500"`
	TargetChapterCount int    `json:"target_chapter_count" binding:"required,min=1,max=100"`
	Format             string `json:"format,omitempty"`
}

// ToBookEntity 转换为书籍实体
func (r *CreateBookRequest) ToBookEntity(ownerID string) *entity.Book {
	format := entity.BookFormat(r.Format)
	switch format {
	case entity.FormatNovel, entity.FormatPictureBook, entity.FormatComic, entity.FormatScreenplay:
	default:
		format = entity.FormatNovel
	}

	book := entity.NewBook(ownerID, r.Title, format)
	book.Genre = r.Genre
	book.Premise = r.Premise
	book.CharactersText = r.Characters
	book.Beginning = r.Beginning
	book.Middle = r.Middle
	book.Ending = r.Ending
	book.TargetWordCount = r.TargetWordCount
	book.TargetChapterCount = r.TargetChapterCount
	return book
}

// BookResponse 书籍响应
type BookResponse struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Genre               string     `json:"genre,omitempty"`
	Premise             string     `json:"premise,omitempty"`
	Format              string     `json:"format"`
	PaymentStatus       string     `json:"payment_status"`
	Status              string     `json:"status"`
	CurrentChapterIndex int        `json:"current_chapter_index"`
	TotalChapters       int        `json:"total_chapters"`
	TotalWords          int        `json:"total_words"`
	TargetWordCount     int        `json:"target_word_count"`
	TargetChapterCount  int        `json:"target_chapter_count"`
	CharacterNames      []string   `json:"character_names,omitempty"`
	CoverImageURL       string     `json:"cover_image_url,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ToBookResponse 实体转响应
func ToBookResponse(book *entity.Book) *BookResponse {
	if book == nil {
		return nil
	}
	return &BookResponse{
		ID:                  book.ID,
		Title:               book.Title,
		Genre:               book.Genre,
		Premise:             book.Premise,
		Format:              string(book.Format),
		PaymentStatus:       string(book.PaymentStatus),
		Status:              string(book.Status),
		CurrentChapterIndex: book.CurrentChapterIndex,
		TotalChapters:       book.TotalChapters,
		TotalWords:          book.TotalWords,
		TargetWordCount:     book.TargetWordCount,
		TargetChapterCount:  book.TargetChapterCount,
		CharacterNames:      book.CharacterNames,
		CoverImageURL:       book.CoverImageURL,
		ErrorMessage:        book.ErrorMessage,
		CompletedAt:         book.CompletedAt,
		CreatedAt:           book.CreatedAt,
		UpdatedAt:           book.UpdatedAt,
	}
}

// BookListResponse 书籍列表响应
type BookListResponse struct {
	Books []*BookResponse `json:"books"`
}

// ToBookListResponse 实体列表转响应
func ToBookListResponse(books []*entity.Book) *BookListResponse {
	out := make([]*BookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, ToBookResponse(b))
	}
	return &BookListResponse{Books: out}
}

// BookStatusResponse 书籍生成状态快照
//
// 轮询接口的专用轻量响应：状态、游标与实时预览。
type BookStatusResponse struct {
	BookID              string    `json:"book_id"`
	Status              string    `json:"status"`
	CurrentChapterIndex int       `json:"current_chapter_index"`
	TotalChapters       int       `json:"total_chapters"`
	TotalWords          int       `json:"total_words"`
	LivePreview         string    `json:"live_preview,omitempty"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	CoverImageURL       string    `json:"cover_image_url,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ToBookStatusResponse 从实体与预览内容组装状态快照
func ToBookStatusResponse(book *entity.Book, preview string) *BookStatusResponse {
	if book == nil {
		return nil
	}
	return &BookStatusResponse{
		BookID:              book.ID,
		Status:              string(book.Status),
		CurrentChapterIndex: book.CurrentChapterIndex,
		TotalChapters:       book.TotalChapters,
		TotalWords:          book.TotalWords,
		LivePreview:         preview,
		ErrorMessage:        book.ErrorMessage,
		CoverImageURL:       book.CoverImageURL,
		UpdatedAt:           book.UpdatedAt,
	}
}
