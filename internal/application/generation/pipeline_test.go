package generation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"draftmybook/internal/domain/entity"
)

func newTestPipeline(books *fakeBookRepo, chapters *fakeChapterRepo, client *fakeClient, pub *fakePublisher) (*Pipeline, *fakePreview, *fakeCache) {
	preview := newFakePreview()
	cache := newFakeCache()
	return NewPipeline(books, chapters, client, pub, preview, cache, testConfig()), preview, cache
}

// drainSteps 模拟消费者循环，把队列里的章节消息跑到空
func drainSteps(t *testing.T, p *Pipeline, pub *fakePublisher) {
	t.Helper()
	for i := 0; i < 100; i++ {
		msg, ok := pub.popStep()
		if !ok {
			return
		}
		if err := p.Step(context.Background(), msg.BookID, msg.ChapterIndex); err != nil {
			t.Fatalf("step at index %d: %v", msg.ChapterIndex, err)
		}
	}
	t.Fatal("chapter step queue did not drain")
}

func TestStepGeneratesChapterAndAdvancesCursor(t *testing.T) {
	book := generatingBook("book-1", 3)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	got := books.get("book-1")
	if got.CurrentChapterIndex != 1 {
		t.Fatalf("cursor = %d, want 1", got.CurrentChapterIndex)
	}
	ch, _ := chapters.GetByBookAndSeq(context.Background(), "book-1", 0)
	if ch == nil {
		t.Fatal("chapter 0 not persisted")
	}
	if ch.WordCount <= 0 {
		t.Fatalf("word count = %d, want > 0", ch.WordCount)
	}
	if got.TotalWords != ch.WordCount {
		t.Fatalf("total words = %d, want %d", got.TotalWords, ch.WordCount)
	}
	if got.StorySoFar == "" {
		t.Fatal("story so far not replaced after step")
	}

	next, ok := pub.popStep()
	if !ok {
		t.Fatal("no follow-up step published")
	}
	if next.ChapterIndex != 1 {
		t.Fatalf("next step index = %d, want 1", next.ChapterIndex)
	}
}

func TestStepCursorMatchesPersistedChapters(t *testing.T) {
	book := generatingBook("book-1", 4)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	// 游标必须在每次步进后都等于已持久化章节数
	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for i := 0; i < 10; i++ {
		got := books.get("book-1")
		count, _ := chapters.CountByBook(context.Background(), "book-1")
		if got.CurrentChapterIndex != int(count) {
			t.Fatalf("cursor %d != persisted chapters %d", got.CurrentChapterIndex, count)
		}
		msg, ok := pub.popStep()
		if !ok {
			break
		}
		if err := p.Step(context.Background(), msg.BookID, msg.ChapterIndex); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

func TestStepDropsStaleMessage(t *testing.T) {
	book := generatingBook("book-1", 3)
	book.CurrentChapterIndex = 2
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("stale step should be a no-op, got %v", err)
	}
	if client.chapterCalls != 0 {
		t.Fatalf("chapter generation ran %d times for a stale message", client.chapterCalls)
	}
	if pub.stepCount() != 0 {
		t.Fatal("stale message must not publish follow-ups")
	}
	if got := books.get("book-1"); got.CurrentChapterIndex != 2 {
		t.Fatalf("cursor moved to %d by a stale message", got.CurrentChapterIndex)
	}
}

func TestStepRedeliveryIsIdempotent(t *testing.T) {
	book := generatingBook("book-1", 2)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// 同一条消息重复投递：游标已前移，按过期消息丢弃
	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("redelivered step: %v", err)
	}

	count, _ := chapters.CountByBook(context.Background(), "book-1")
	if count != 1 {
		t.Fatalf("chapter count = %d after redelivery, want 1", count)
	}
	if client.chapterCalls != 1 {
		t.Fatalf("chapter generated %d times, want 1", client.chapterCalls)
	}
}

func TestStepRecoversOrphanedChapter(t *testing.T) {
	// 章节已落库但游标没动：上次运行在两步之间崩溃
	book := generatingBook("book-1", 2)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	orphan := entity.NewChapter("book-1", 0, "The Part 1", "already written text here", 4)
	if _, err := chapters.CreateIfAbsent(context.Background(), orphan); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if client.chapterCalls != 0 {
		t.Fatal("orphaned chapter must not be regenerated")
	}
	got := books.get("book-1")
	if got.CurrentChapterIndex != 1 {
		t.Fatalf("cursor = %d, want 1", got.CurrentChapterIndex)
	}
	if got.StorySoFar == "" {
		t.Fatal("continuity not re-derived from orphaned chapter")
	}
}

func TestStepWritesLivePreview(t *testing.T) {
	book := generatingBook("book-1", 2)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, preview, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if text := preview.read("book-1"); !strings.Contains(text, "Chapter 1") {
		t.Fatalf("preview = %q, want generated chapter text", text)
	}
}

func TestStepContinuityFallbackKeepsStatesAndAdvances(t *testing.T) {
	book := generatingBook("book-1", 2)
	initial := &entity.CharacterStateDoc{
		Version: 1,
		States: map[string]entity.CharacterState{
			"Ava": {LastSeenChapter: 0, Status: "at sea", Goal: "reach the edge"},
		},
	}
	book.CharacterStates = initial
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{} // 默认 statesFn 返回 current，等价于解析失败回退
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	got := books.get("book-1")
	if got.CurrentChapterIndex != 1 {
		t.Fatal("fallback must not block cursor advancement")
	}
	if got.CharacterStates == nil {
		t.Fatal("character states dropped on fallback")
	}
	state, ok := got.CharacterStates.States["Ava"]
	if !ok || state.Status != "at sea" || state.Goal != "reach the edge" {
		t.Fatalf("character states changed on fallback: %+v", got.CharacterStates.States)
	}
}

func TestStepFailureBudgetExhaustionFailsBook(t *testing.T) {
	book := generatingBook("book-1", 2)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		chapterFn: func(*ChapterRequest) (string, error) {
			return "", fmt.Errorf("model unavailable")
		},
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	// 预算内的失败返回错误，让消费者重投
	for i := 0; i < 2; i++ {
		if err := p.Step(context.Background(), "book-1", 0); err == nil {
			t.Fatalf("attempt %d: want error while budget remains", i+1)
		}
		if got := books.get("book-1"); got.Status != entity.BookStatusGenerating {
			t.Fatalf("attempt %d: status = %s, want generating", i+1, got.Status)
		}
	}

	// 第三次耗尽预算：书置为 failed，错误被吞掉以停止重投
	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("exhausted attempt should swallow the error, got %v", err)
	}
	got := books.get("book-1")
	if got.Status != entity.BookStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
	if got.CurrentChapterIndex != 0 {
		t.Fatalf("cursor = %d, failures must not move the cursor", got.CurrentChapterIndex)
	}
}

func TestStepDropsFinishedBook(t *testing.T) {
	book := generatingBook("book-1", 2)
	book.Complete()
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("step on completed book should be a no-op, got %v", err)
	}
	if client.chapterCalls != 0 {
		t.Fatal("completed book must not generate")
	}
}

func TestPipelineRunsToCompletion(t *testing.T) {
	book := generatingBook("book-1", 3)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		summaryFn: func(_, chapterText string) (string, error) {
			return "recap: " + chapterText, nil
		},
		statesFn: func(_ *entity.CharacterStateDoc, _ string, chapterIndex int) *entity.CharacterStateDoc {
			return &entity.CharacterStateDoc{
				Version: 1,
				States: map[string]entity.CharacterState{
					"Ava": {LastSeenChapter: chapterIndex, Status: "at sea"},
				},
			}
		},
	}
	pub := &fakePublisher{}
	p, preview, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	drainSteps(t, p, pub)

	got := books.get("book-1")
	if got.Status != entity.BookStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	count, _ := chapters.CountByBook(context.Background(), "book-1")
	if count != 3 {
		t.Fatalf("chapter count = %d, want 3", count)
	}
	if got.CurrentChapterIndex != got.TotalChapters {
		t.Fatalf("cursor = %d, want %d", got.CurrentChapterIndex, got.TotalChapters)
	}
	sum, _ := chapters.SumWordCount(context.Background(), "book-1")
	if got.TotalWords != sum {
		t.Fatalf("total words = %d, want derived sum %d", got.TotalWords, sum)
	}
	// 完成态不得把末章的连续性状态冲回上一章的快照
	if !strings.Contains(got.StorySoFar, "Chapter 3") {
		t.Fatalf("story so far = %q, want recap of the final chapter", got.StorySoFar)
	}
	if got.CharacterStates == nil || got.CharacterStates.States["Ava"].LastSeenChapter != 2 {
		t.Fatalf("character states = %+v, want final chapter state", got.CharacterStates)
	}
	if preview.read("book-1") != "" {
		t.Fatal("preview buffer not cleared on completion")
	}
}

func TestStepTransientFailureRetriesToCompletion(t *testing.T) {
	book := generatingBook("book-1", 10)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	failedOnce := false
	client := &fakeClient{
		chapterFn: func(req *ChapterRequest) (string, error) {
			if req.Spec.Index == 4 && !failedOnce {
				failedOnce = true
				return "", fmt.Errorf("model unavailable")
			}
			return fmt.Sprintf("Chapter %d: %s\n\nwords of chapter %d go here",
				req.Spec.Index+1, req.Spec.Title, req.Spec.Index+1), nil
		},
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	// 消费者循环：步进出错时按退避重投同一章
	next := 0
	for i := 0; i < 100; i++ {
		if err := p.Step(context.Background(), "book-1", next); err != nil {
			continue
		}
		msg, ok := pub.popStep()
		if !ok {
			break
		}
		next = msg.ChapterIndex
	}

	got := books.get("book-1")
	if got.Status != entity.BookStatusCompleted {
		t.Fatalf("status = %s, want completed after a transient failure", got.Status)
	}
	if got.CurrentChapterIndex != 10 {
		t.Fatalf("cursor = %d, want 10", got.CurrentChapterIndex)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("attempt count = %d, successful advance must reset the budget", got.AttemptCount)
	}
	list, _ := chapters.ListByBook(context.Background(), "book-1")
	if len(list) != 10 {
		t.Fatalf("chapter count = %d, want 10", len(list))
	}
	for i, ch := range list {
		if ch.SeqNum != i {
			t.Fatalf("chapter %d has seq %d, indices must be unique and gapless", i, ch.SeqNum)
		}
	}
	if client.chapterCalls != 11 {
		t.Fatalf("chapter generations = %d, want 11 (one retry)", client.chapterCalls)
	}
}

func TestFinishGeneratesCoverArt(t *testing.T) {
	book := generatingBook("book-1", 1)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		imageFn: func(string) (string, error) { return "https://img.example/cover.png", nil },
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)
	p.cfg.Features.CoverArt.Enabled = true

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	drainSteps(t, p, pub)

	got := books.get("book-1")
	if got.CoverImageURL != "https://img.example/cover.png" {
		t.Fatalf("cover url = %q", got.CoverImageURL)
	}
}

func TestFinishCoverArtFailureDoesNotFailBook(t *testing.T) {
	book := generatingBook("book-1", 1)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		imageFn: func(string) (string, error) { return "", fmt.Errorf("image api down") },
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)
	p.cfg.Features.CoverArt.Enabled = true

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	drainSteps(t, p, pub)

	if got := books.get("book-1"); got.Status != entity.BookStatusCompleted {
		t.Fatalf("status = %s, cover failure must not fail the book", got.Status)
	}
}

func TestFinishDispatchesIllustrationJobsForIllustratedFormats(t *testing.T) {
	book := generatingBook("book-1", 2)
	book.Format = entity.FormatPictureBook
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}
	drainSteps(t, p, pub)

	if len(pub.jobs) != 2 {
		t.Fatalf("illustration jobs = %d, want 2", len(pub.jobs))
	}
	for i, job := range pub.jobs {
		if job.Position != i {
			t.Fatalf("job %d position = %d", i, job.Position)
		}
	}
}

func TestSyncReviewPolishesChapter(t *testing.T) {
	book := generatingBook("book-1", 1)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		polishFn: func(text string) (string, error) { return text + " polished", nil },
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)
	p.cfg.Features.Review.Enabled = true
	p.cfg.Features.Review.Async = false

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	ch, _ := chapters.GetByBookAndSeq(context.Background(), "book-1", 0)
	if !ch.Reviewed {
		t.Fatal("chapter not marked reviewed")
	}
	if !strings.HasSuffix(ch.Content, "polished") {
		t.Fatalf("content = %q, polish not applied", ch.Content)
	}
}

func TestSyncReviewFailureKeepsOriginalText(t *testing.T) {
	book := generatingBook("book-1", 1)
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	client := &fakeClient{
		polishFn: func(string) (string, error) { return "", fmt.Errorf("review model down") },
	}
	pub := &fakePublisher{}
	p, _, _ := newTestPipeline(books, chapters, client, pub)
	p.cfg.Features.Review.Enabled = true
	p.cfg.Features.Review.Async = false

	if err := p.Step(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	ch, _ := chapters.GetByBookAndSeq(context.Background(), "book-1", 0)
	if !ch.Reviewed {
		t.Fatal("failed review must still mark the chapter reviewed")
	}
	if !strings.Contains(ch.Content, "words of chapter 1") {
		t.Fatalf("original content lost: %q", ch.Content)
	}
}

func TestRenderOutlineText(t *testing.T) {
	text := renderOutlineText(outlineOf(2, 150))
	if !strings.Contains(text, "1. The Part 1") || !strings.Contains(text, "(~150 words)") {
		t.Fatalf("unexpected outline rendering:\n%s", text)
	}
	if renderOutlineText(nil) != "" {
		t.Fatal("nil outline should render empty")
	}
}

func TestMergeCharacterNames(t *testing.T) {
	states := &entity.CharacterStateDoc{States: map[string]entity.CharacterState{
		"Ava": {}, "Cara": {},
	}}
	got := mergeCharacterNames([]string{"Ava", "Ben"}, states)
	if len(got) != 3 {
		t.Fatalf("merged names = %v", got)
	}
	if got[0] != "Ava" || got[1] != "Ben" {
		t.Fatalf("existing order not preserved: %v", got)
	}
}
