package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"draftmybook/internal/config"
	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/messaging"
	"draftmybook/pkg/errors"
)

// 内存仓储与桩客户端，行为对齐 postgres 实现的幂等约定。

type fakeBookRepo struct {
	mu    sync.Mutex
	books map[string]*entity.Book
}

func newFakeBookRepo(books ...*entity.Book) *fakeBookRepo {
	r := &fakeBookRepo{books: make(map[string]*entity.Book)}
	for _, b := range books {
		cp := *b
		r.books[b.ID] = &cp
	}
	return r
}

func (r *fakeBookRepo) get(id string) *entity.Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (r *fakeBookRepo) Create(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *book
	r.books[book.ID] = &cp
	return nil
}

func (r *fakeBookRepo) GetByID(_ context.Context, id string) (*entity.Book, error) {
	return r.get(id), nil
}

func (r *fakeBookRepo) Update(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[book.ID]; !ok {
		return errors.ErrBookNotFound
	}
	cp := *book
	r.books[book.ID] = &cp
	return nil
}

func (r *fakeBookRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, id)
	return nil
}

func (r *fakeBookRepo) ListByOwner(_ context.Context, _ string, _ *repository.BookFilter, _ repository.Pagination) (*repository.PagedResult[*entity.Book], error) {
	return &repository.PagedResult[*entity.Book]{}, nil
}

func (r *fakeBookRepo) UpdateStatus(_ context.Context, id string, status entity.BookStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return errors.ErrBookNotFound
	}
	b.Status = status
	b.ErrorMessage = errMsg
	return nil
}

func (r *fakeBookRepo) SaveOutline(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.books[book.ID]
	if !ok {
		return errors.ErrBookNotFound
	}
	if stored.Status != entity.BookStatusOutlining {
		return errors.ErrInvalidState
	}
	cp := *book
	r.books[book.ID] = &cp
	return nil
}

func (r *fakeBookRepo) AdvanceCursor(_ context.Context, bookID string, fromIndex int, update repository.ContinuityUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[bookID]
	if !ok {
		return false, errors.ErrBookNotFound
	}
	if b.Status != entity.BookStatusGenerating || b.CurrentChapterIndex != fromIndex {
		return false, nil
	}
	b.CurrentChapterIndex = fromIndex + 1
	b.StorySoFar = update.StorySoFar
	b.CharacterStates = update.CharacterStates
	if len(update.CharacterNames) > 0 {
		b.CharacterNames = update.CharacterNames
	}
	b.TotalWords = update.TotalWords
	b.AttemptCount = 0
	b.ErrorMessage = ""
	return true, nil
}

func (r *fakeBookRepo) MarkCompleted(_ context.Context, bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[bookID]
	if !ok {
		return errors.ErrBookNotFound
	}
	if b.Status != entity.BookStatusGenerating {
		return nil
	}
	b.Status = entity.BookStatusCompleted
	now := time.Now()
	b.CompletedAt = &now
	b.AttemptCount = 0
	b.ErrorMessage = ""
	return nil
}

func (r *fakeBookRepo) RecordStepFailure(_ context.Context, bookID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[bookID]
	if !ok {
		return errors.ErrBookNotFound
	}
	if b.Status != entity.BookStatusGenerating {
		return nil
	}
	b.AttemptCount++
	b.ErrorMessage = errMsg
	return nil
}

func (r *fakeBookRepo) SetCoverImage(_ context.Context, bookID, imageURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[bookID]
	if !ok {
		return errors.ErrBookNotFound
	}
	if b.CoverImageURL == "" {
		b.CoverImageURL = imageURL
	}
	return nil
}

func (r *fakeBookRepo) ResetForRestart(_ context.Context, book *entity.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[book.ID]; !ok {
		return errors.ErrBookNotFound
	}
	cp := *book
	r.books[book.ID] = &cp
	return nil
}

type fakeChapterRepo struct {
	mu       sync.Mutex
	chapters map[string]*entity.Chapter // key: bookID:seq
	nextID   int
}

func newFakeChapterRepo() *fakeChapterRepo {
	return &fakeChapterRepo{chapters: make(map[string]*entity.Chapter)}
}

func chapterKey(bookID string, seq int) string {
	return fmt.Sprintf("%s:%d", bookID, seq)
}

func (r *fakeChapterRepo) CreateIfAbsent(_ context.Context, chapter *entity.Chapter) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := chapterKey(chapter.BookID, chapter.SeqNum)
	if _, ok := r.chapters[key]; ok {
		return false, nil
	}
	r.nextID++
	chapter.ID = fmt.Sprintf("ch-%d", r.nextID)
	cp := *chapter
	r.chapters[key] = &cp
	return true, nil
}

func (r *fakeChapterRepo) GetByID(_ context.Context, id string) (*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.chapters {
		if ch.ID == id {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeChapterRepo) GetByBookAndSeq(_ context.Context, bookID string, seqNum int) (*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chapters[chapterKey(bookID, seqNum)]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (r *fakeChapterRepo) ListByBook(_ context.Context, bookID string) ([]*entity.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Chapter
	for _, ch := range r.chapters {
		if ch.BookID == bookID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (r *fakeChapterRepo) CountByBook(_ context.Context, bookID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ch := range r.chapters {
		if ch.BookID == bookID {
			n++
		}
	}
	return n, nil
}

func (r *fakeChapterRepo) SumWordCount(_ context.Context, bookID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0
	for _, ch := range r.chapters {
		if ch.BookID == bookID {
			sum += ch.WordCount
		}
	}
	return sum, nil
}

func (r *fakeChapterRepo) UpdatePolished(_ context.Context, id, content string, wordCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.chapters {
		if ch.ID == id && !ch.Reviewed {
			ch.Content = content
			ch.WordCount = wordCount
			ch.Reviewed = true
		}
	}
	return nil
}

func (r *fakeChapterRepo) MarkReviewed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.chapters {
		if ch.ID == id {
			ch.Reviewed = true
		}
	}
	return nil
}

func (r *fakeChapterRepo) DeleteByBook(_ context.Context, bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ch := range r.chapters {
		if ch.BookID == bookID {
			delete(r.chapters, key)
		}
	}
	return nil
}

type fakeIllustrationRepo struct {
	mu     sync.Mutex
	rows   map[string]*entity.Illustration // key: bookID:pos
	nextID int
}

func newFakeIllustrationRepo(rows ...*entity.Illustration) *fakeIllustrationRepo {
	r := &fakeIllustrationRepo{rows: make(map[string]*entity.Illustration)}
	for _, row := range rows {
		cp := *row
		r.nextID++
		if cp.ID == "" {
			cp.ID = fmt.Sprintf("ill-%d", r.nextID)
		}
		r.rows[chapterKey(row.BookID, row.Position)] = &cp
	}
	return r
}

func (r *fakeIllustrationRepo) CreateIfAbsent(_ context.Context, illustration *entity.Illustration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := chapterKey(illustration.BookID, illustration.Position)
	if _, ok := r.rows[key]; ok {
		return false, nil
	}
	r.nextID++
	illustration.ID = fmt.Sprintf("ill-%d", r.nextID)
	cp := *illustration
	r.rows[key] = &cp
	return true, nil
}

func (r *fakeIllustrationRepo) GetByBookAndPosition(_ context.Context, bookID string, position int) (*entity.Illustration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[chapterKey(bookID, position)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeIllustrationRepo) ListByBook(_ context.Context, bookID string) ([]*entity.Illustration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Illustration
	for _, row := range r.rows {
		if row.BookID == bookID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeIllustrationRepo) ListFailed(_ context.Context, bookID string) ([]*entity.Illustration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Illustration
	for _, row := range r.rows {
		if row.BookID == bookID && row.Status == entity.IllustrationStatusFailed {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeIllustrationRepo) Update(_ context.Context, illustration *entity.Illustration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *illustration
	r.rows[chapterKey(illustration.BookID, illustration.Position)] = &cp
	return nil
}

func (r *fakeIllustrationRepo) DeleteByBook(_ context.Context, bookID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.rows {
		if row.BookID == bookID {
			delete(r.rows, key)
		}
	}
	return nil
}

type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakePublisher struct {
	mu     sync.Mutex
	claims []messaging.BookClaimMessage
	steps  []messaging.ChapterStepMessage
	jobs   []messaging.IllustrationJobMessage
}

func (p *fakePublisher) PublishBookClaim(_ context.Context, claim *messaging.BookClaimMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = append(p.claims, *claim)
	return fmt.Sprintf("claim-%d", len(p.claims)), nil
}

func (p *fakePublisher) PublishChapterStep(_ context.Context, step *messaging.ChapterStepMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, *step)
	return fmt.Sprintf("step-%d", len(p.steps)), nil
}

func (p *fakePublisher) PublishIllustrationJob(_ context.Context, job *messaging.IllustrationJobMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, *job)
	return fmt.Sprintf("job-%d", len(p.jobs)), nil
}

// popStep 弹出队首章节消息，模拟消费者逐条投递
func (p *fakePublisher) popStep() (messaging.ChapterStepMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.steps) == 0 {
		return messaging.ChapterStepMessage{}, false
	}
	msg := p.steps[0]
	p.steps = p.steps[1:]
	return msg, true
}

func (p *fakePublisher) stepCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

func (p *fakePublisher) claimCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.claims)
}

type fakePreview struct {
	mu   sync.Mutex
	text map[string]string
}

func newFakePreview() *fakePreview {
	return &fakePreview{text: make(map[string]string)}
}

func (p *fakePreview) Write(_ context.Context, bookID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.text[bookID] = text
	return nil
}

func (p *fakePreview) Clear(_ context.Context, bookID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.text, bookID)
	return nil
}

func (p *fakePreview) read(bookID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text[bookID]
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{invalidated: make(map[string]int)}
}

func (c *fakeCache) InvalidateBook(_ context.Context, bookID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[bookID]++
	return nil
}

// fakeClient 可编程的生成客户端桩
//
// 函数字段为空时使用确定性默认行为：正文含章节标题、摘要滚动
// 追加、角色状态原样保留。
type fakeClient struct {
	mu sync.Mutex

	outlineFn func(book *entity.Book) (*OutlinePlan, error)
	chapterFn func(req *ChapterRequest) (string, error)
	summaryFn func(storySoFar, chapterText string) (string, error)
	statesFn  func(current *entity.CharacterStateDoc, chapterText string, chapterIndex int) *entity.CharacterStateDoc
	polishFn  func(chapterText string) (string, error)
	imageFn   func(prompt string) (string, error)

	outlineCalls int
	chapterCalls int
	imageCalls   int
}

func (c *fakeClient) GenerateOutline(_ context.Context, book *entity.Book) (*OutlinePlan, error) {
	c.mu.Lock()
	c.outlineCalls++
	fn := c.outlineFn
	c.mu.Unlock()
	if fn != nil {
		return fn(book)
	}

	n := book.TargetChapterCount
	if n <= 0 {
		n = 3
	}
	plan := &OutlinePlan{Characters: []string{"Ava", "Ben"}}
	for i := 0; i < n; i++ {
		plan.Chapters = append(plan.Chapters, entity.ChapterSpec{
			Index:       i,
			Title:       fmt.Sprintf("The Part %d", i+1),
			Summary:     fmt.Sprintf("events of part %d", i+1),
			TargetWords: 100,
		})
	}
	return plan, nil
}

func (c *fakeClient) GenerateChapterText(_ context.Context, req *ChapterRequest) (string, error) {
	c.mu.Lock()
	c.chapterCalls++
	fn := c.chapterFn
	c.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return fmt.Sprintf("Chapter %d: %s\n\nwords of chapter %d go here",
		req.Spec.Index+1, req.Spec.Title, req.Spec.Index+1), nil
}

func (c *fakeClient) SummarizeChapter(_ context.Context, storySoFar, chapterText string) (string, error) {
	c.mu.Lock()
	fn := c.summaryFn
	c.mu.Unlock()
	if fn != nil {
		return fn(storySoFar, chapterText)
	}
	return fmt.Sprintf("so far: %d chars and then more", len(storySoFar)+len(chapterText)), nil
}

func (c *fakeClient) UpdateCharacterStates(_ context.Context, current *entity.CharacterStateDoc, chapterText string, chapterIndex int) *entity.CharacterStateDoc {
	c.mu.Lock()
	fn := c.statesFn
	c.mu.Unlock()
	if fn != nil {
		return fn(current, chapterText, chapterIndex)
	}
	return current
}

func (c *fakeClient) PolishChapter(_ context.Context, chapterText string) (string, error) {
	c.mu.Lock()
	fn := c.polishFn
	c.mu.Unlock()
	if fn != nil {
		return fn(chapterText)
	}
	return chapterText, nil
}

func (c *fakeClient) GenerateCoverArt(ctx context.Context, prompt string) (string, error) {
	return c.generateImage(prompt)
}

func (c *fakeClient) GenerateIllustration(ctx context.Context, prompt string) (string, error) {
	return c.generateImage(prompt)
}

func (c *fakeClient) generateImage(prompt string) (string, error) {
	c.mu.Lock()
	c.imageCalls++
	fn := c.imageFn
	c.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return "https://img.example/generated.png", nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.MaxStepAttempts = 3
	cfg.Pipeline.IllustrationMaxRetries = 5
	cfg.Features.Review.Enabled = false
	cfg.Features.CoverArt.Enabled = false
	return cfg
}

func outlineOf(n, wordsPer int) *entity.OutlineDoc {
	doc := &entity.OutlineDoc{Version: 1}
	for i := 0; i < n; i++ {
		doc.Chapters = append(doc.Chapters, entity.ChapterSpec{
			Index:       i,
			Title:       fmt.Sprintf("The Part %d", i+1),
			Summary:     fmt.Sprintf("events of part %d", i+1),
			TargetWords: wordsPer,
		})
	}
	return doc
}

func generatingBook(id string, chapters int) *entity.Book {
	book := entity.NewBook("owner-1", "The Long Voyage", entity.FormatNovel)
	book.ID = id
	book.Genre = "adventure"
	book.Premise = "a crew sails beyond the map"
	book.TargetChapterCount = chapters
	book.TargetWordCount = chapters * 100
	book.PaymentStatus = entity.PaymentStatusPaid
	book.BeginGenerating(outlineOf(chapters, 100))
	return book
}
