// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"draftmybook/internal/application/generation"
	"draftmybook/internal/domain/entity"
)

// IllustrationResponse 插图响应
type IllustrationResponse struct {
	ID           string    `json:"id"`
	BookID       string    `json:"book_id"`
	Position     int       `json:"position"`
	ImageURL     string    `json:"image_url,omitempty"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToIllustrationResponse 实体转响应
func ToIllustrationResponse(ill *entity.Illustration) *IllustrationResponse {
	if ill == nil {
		return nil
	}
	return &IllustrationResponse{
		ID:           ill.ID,
		BookID:       ill.BookID,
		Position:     ill.Position,
		ImageURL:     ill.ImageURL,
		Status:       string(ill.Status),
		RetryCount:   ill.RetryCount,
		ErrorMessage: ill.ErrorMessage,
		UpdatedAt:    ill.UpdatedAt,
	}
}

// IllustrationListResponse 插图列表响应
type IllustrationListResponse struct {
	Illustrations []*IllustrationResponse `json:"illustrations"`
}

// ToIllustrationListResponse 实体列表转响应
func ToIllustrationListResponse(items []*entity.Illustration) *IllustrationListResponse {
	out := make([]*IllustrationResponse, 0, len(items))
	for _, ill := range items {
		out = append(out, ToIllustrationResponse(ill))
	}
	return &IllustrationListResponse{Illustrations: out}
}

// RetryReportResponse 批量重试结果响应
type RetryReportResponse struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ToRetryReportResponse 重试结果转响应
func ToRetryReportResponse(report *generation.RetryReport) *RetryReportResponse {
	if report == nil {
		return nil
	}
	return &RetryReportResponse{
		Retried:   report.Retried,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	}
}
