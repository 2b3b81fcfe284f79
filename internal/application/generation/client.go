// Package generation 实现书籍生成核心：大纲规划、章节流水线、
// 插图子流水线与恢复/重启控制。
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"draftmybook/internal/application/generation/genutil"
	"draftmybook/internal/application/generation/prompt"
	"draftmybook/internal/config"
	"draftmybook/internal/domain/entity"
	"draftmybook/internal/infrastructure/llm"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/metrics"
)

// ChapterRequest 单章生成请求，由流水线从连续性状态组装
type ChapterRequest struct {
	Title           string
	Genre           string
	Format          entity.BookFormat
	OutlineText     string
	StorySoFar      string
	CharacterStates string
	Spec            entity.ChapterSpec
	ChapterCount    int
	HeadingFormat   string
}

// Client 生成能力契约
//
// UpdateCharacterStates 是唯一不返回错误的方法：模型输出无法解析时
// 必须原样返回当前状态，绝不让坏响应破坏已有的连续性状态。
type Client interface {
	GenerateOutline(ctx context.Context, book *entity.Book) (*OutlinePlan, error)
	GenerateChapterText(ctx context.Context, req *ChapterRequest) (string, error)
	SummarizeChapter(ctx context.Context, storySoFar, chapterText string) (string, error)
	UpdateCharacterStates(ctx context.Context, current *entity.CharacterStateDoc, chapterText string, chapterIndex int) *entity.CharacterStateDoc
	PolishChapter(ctx context.Context, chapterText string) (string, error)
	GenerateCoverArt(ctx context.Context, prompt string) (string, error)
	GenerateIllustration(ctx context.Context, prompt string) (string, error)
}

// OutlinePlan 规划器输出
type OutlinePlan struct {
	Chapters   []entity.ChapterSpec
	Characters []string
}

// LLMClient 基于 Eino ChatModel 与图像接口的 Client 实现
type LLMClient struct {
	factory     *llm.EinoFactory
	images      *llm.ImageClient
	registry    *prompt.Registry
	limiter     *rate.Limiter
	provider    string
	model       string
	maxAttempts int
	backoff     config.BackoffConfig
	summaryLen  int
}

// NewLLMClient 创建 LLM 客户端
func NewLLMClient(cfg *config.Config, factory *llm.EinoFactory, images *llm.ImageClient) *LLMClient {
	providerName := cfg.LLM.DefaultProvider
	modelName := ""
	if p, ok := cfg.LLM.Providers[providerName]; ok {
		modelName = p.Model
	}

	var limiter *rate.Limiter
	if cfg.LLM.RateLimit.Enabled {
		rps := cfg.LLM.RateLimit.RequestsPerSecond
		if rps <= 0 {
			rps = 1
		}
		burst := cfg.LLM.RateLimit.Burst
		if burst <= 0 {
			burst = rps
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	maxAttempts := cfg.LLM.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	summaryLen := cfg.Pipeline.SummaryTargetWords
	if summaryLen <= 0 {
		summaryLen = 150
	}

	return &LLMClient{
		factory:     factory,
		images:      images,
		registry:    prompt.NewRegistry(),
		limiter:     limiter,
		provider:    providerName,
		model:       modelName,
		maxAttempts: maxAttempts,
		backoff:     cfg.LLM.Retry.Backoff,
		summaryLen:  summaryLen,
	}
}

// GenerateOutline 生成大纲
func (c *LLMClient) GenerateOutline(ctx context.Context, book *entity.Book) (*OutlinePlan, error) {
	vars := map[string]any{
		"title":         book.Title,
		"genre":         orDefault(book.Genre, "general fiction"),
		"format":        string(book.Format),
		"premise":       book.Premise,
		"characters":    orDefault(book.CharactersText, "(author's choice)"),
		"beginning":     orDefault(book.Beginning, "(author's choice)"),
		"middle":        orDefault(book.Middle, "(author's choice)"),
		"ending":        orDefault(book.Ending, "(author's choice)"),
		"chapter_count": book.TargetChapterCount,
		"target_words":  book.TargetWordCount,
	}

	raw, err := c.chat(ctx, prompt.PromptOutlinePlanV1, vars)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Chapters []struct {
			Index        int    `json:"index"`
			Title        string `json:"title"`
			Summary      string `json:"summary"`
			TargetWords  int    `json:"target_words"`
			POVCharacter string `json:"pov_character"`
		} `json:"chapters"`
		Characters []string `json:"characters"`
	}
	if err := json.Unmarshal([]byte(genutil.ExtractJSONObject(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable outline output: %w", err)
	}
	if len(parsed.Chapters) == 0 {
		return nil, fmt.Errorf("outline output contains no chapters")
	}

	plan := &OutlinePlan{Characters: parsed.Characters}
	for i, ch := range parsed.Chapters {
		plan.Chapters = append(plan.Chapters, entity.ChapterSpec{
			Index:        i,
			Title:        strings.TrimSpace(ch.Title),
			Summary:      strings.TrimSpace(ch.Summary),
			TargetWords:  ch.TargetWords,
			POVCharacter: strings.TrimSpace(ch.POVCharacter),
		})
	}
	return plan, nil
}

// GenerateChapterText 生成单章正文
func (c *LLMClient) GenerateChapterText(ctx context.Context, req *ChapterRequest) (string, error) {
	vars := map[string]any{
		"title":            req.Title,
		"genre":            orDefault(req.Genre, "general fiction"),
		"format":           string(req.Format),
		"outline":          req.OutlineText,
		"story_so_far":     orDefault(req.StorySoFar, "(this is the first chapter)"),
		"character_states": orDefault(req.CharacterStates, "(none yet)"),
		"chapter_number":   req.Spec.Index + 1,
		"chapter_count":    req.ChapterCount,
		"chapter_title":    req.Spec.Title,
		"chapter_summary":  req.Spec.Summary,
		"pov_character":    orDefault(req.Spec.POVCharacter, "(author's choice)"),
		"target_words":     req.Spec.TargetWords,
		"heading_format":   req.HeadingFormat,
	}

	text, err := c.chat(ctx, prompt.PromptChapterGenV1, vars)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty chapter content")
	}
	return strings.TrimSpace(text), nil
}

// SummarizeChapter 把新章节并入滚动摘要，输出整体替换旧摘要
func (c *LLMClient) SummarizeChapter(ctx context.Context, storySoFar, chapterText string) (string, error) {
	vars := map[string]any{
		"target_words": c.summaryLen,
		"story_so_far": orDefault(storySoFar, "(empty)"),
		"chapter_text": genutil.TruncateByRunes(chapterText, 24000),
	}

	summary, err := c.chat(ctx, prompt.PromptChapterSummaryV1, vars)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("empty summary output")
	}
	return strings.TrimSpace(summary), nil
}

// UpdateCharacterStates 更新角色状态
// 任何失败（调用失败或输出不可解析）都回退为原样返回 current，
// 并通过 continuity_fallback_total 指标暴露回退频率。
func (c *LLMClient) UpdateCharacterStates(ctx context.Context, current *entity.CharacterStateDoc, chapterText string, chapterIndex int) *entity.CharacterStateDoc {
	currentJSON := "{}"
	version := 1
	if current != nil {
		version = current.Version
		if b, err := json.Marshal(current.States); err == nil {
			currentJSON = string(b)
		}
	}

	vars := map[string]any{
		"character_states": currentJSON,
		"chapter_number":   chapterIndex + 1,
		"chapter_text":     genutil.TruncateByRunes(chapterText, 24000),
	}

	raw, err := c.chat(ctx, prompt.PromptCharacterStateV1, vars)
	if err != nil {
		metrics.ContinuityFallbackTotal.Inc()
		logger.Warn(ctx, "character state update failed, keeping previous states",
			"chapter_index", chapterIndex, "error", err.Error())
		return current
	}

	var parsed struct {
		States map[string]entity.CharacterState `json:"states"`
	}
	if err := json.Unmarshal([]byte(genutil.ExtractJSONObject(raw)), &parsed); err != nil || len(parsed.States) == 0 {
		metrics.ContinuityFallbackTotal.Inc()
		logger.Warn(ctx, "unparseable character state output, keeping previous states",
			"chapter_index", chapterIndex)
		return current
	}

	return &entity.CharacterStateDoc{
		Version: version,
		States:  parsed.States,
	}
}

// PolishChapter 复审润色
func (c *LLMClient) PolishChapter(ctx context.Context, chapterText string) (string, error) {
	vars := map[string]any{
		"chapter_text": chapterText,
	}

	polished, err := c.chat(ctx, prompt.PromptChapterPolishV1, vars)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(polished) == "" {
		return "", fmt.Errorf("empty polish output")
	}
	return strings.TrimSpace(polished), nil
}

// GenerateCoverArt 生成封面
func (c *LLMClient) GenerateCoverArt(ctx context.Context, coverPrompt string) (string, error) {
	return c.image(ctx, coverPrompt)
}

// GenerateIllustration 生成插图
func (c *LLMClient) GenerateIllustration(ctx context.Context, illustrationPrompt string) (string, error) {
	return c.image(ctx, illustrationPrompt)
}

// chat 执行一次带限流与重试的对话调用
func (c *LLMClient) chat(ctx context.Context, id prompt.PromptID, vars map[string]any) (string, error) {
	tpl, err := c.registry.ChatTemplate(id)
	if err != nil {
		return "", err
	}

	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("failed to format prompt %s: %w", id, err)
	}

	var content string
	err = c.withRetry(ctx, func(ctx context.Context) error {
		chatModel, err := c.factory.Get(ctx, c.provider)
		if err != nil {
			return err
		}

		start := time.Now()
		outMsg, err := chatModel.Generate(ctx, msgs)
		metrics.LLMCallDuration.WithLabelValues(c.provider, c.model).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LLMCallTotal.WithLabelValues(c.provider, c.model, "error").Inc()
			return err
		}
		metrics.LLMCallTotal.WithLabelValues(c.provider, c.model, "success").Inc()

		if outMsg == nil {
			return fmt.Errorf("empty llm response")
		}
		if outMsg.ResponseMeta != nil && outMsg.ResponseMeta.Usage != nil {
			metrics.LLMTokensUsed.WithLabelValues(c.provider, c.model, "prompt").
				Add(float64(outMsg.ResponseMeta.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.provider, c.model, "completion").
				Add(float64(outMsg.ResponseMeta.Usage.CompletionTokens))
		}

		content = outMsg.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// image 执行一次带限流与重试的图像调用
func (c *LLMClient) image(ctx context.Context, imagePrompt string) (string, error) {
	if c.images == nil {
		return "", fmt.Errorf("image client not configured")
	}

	var url string
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		url, err = c.images.Generate(ctx, imagePrompt)
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// withRetry 限流 + 指数退避重试；超时与瞬时失败同等对待
func (c *LLMClient) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := c.backoff.Initial
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < c.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * orDefaultFloat(c.backoff.Multiplier, 2))
			if c.backoff.Max > 0 && backoff > c.backoff.Max {
				backoff = c.backoff.Max
			}
		}
	}
	return lastErr
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func orDefaultFloat(f, def float64) float64 {
	if f <= 0 {
		return def
	}
	return f
}
