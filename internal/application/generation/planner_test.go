package generation

import (
	"context"
	"fmt"
	"testing"

	"draftmybook/internal/domain/entity"
)

func outliningBook(id string, chapters, words int) *entity.Book {
	book := entity.NewBook("owner-1", "The Long Voyage", entity.FormatNovel)
	book.ID = id
	book.Genre = "adventure"
	book.Premise = "a crew sails beyond the map"
	book.TargetChapterCount = chapters
	book.TargetWordCount = words
	book.PaymentStatus = entity.PaymentStatusPaid
	book.BeginOutline()
	return book
}

func TestPlanBuildsOutlineAndDispatchesFirstStep(t *testing.T) {
	book := outliningBook("book-1", 3, 3000)
	books := newFakeBookRepo(book)
	client := &fakeClient{}
	pub := &fakePublisher{}
	p := NewPlanner(books, client, pub, testConfig())

	if err := p.Plan(context.Background(), "book-1"); err != nil {
		t.Fatalf("Plan: %v", err)
	}

	got := books.get("book-1")
	if got.Status != entity.BookStatusGenerating {
		t.Fatalf("status = %s, want generating", got.Status)
	}
	if got.Outline == nil || len(got.Outline.Chapters) != 3 {
		t.Fatalf("outline = %+v, want 3 chapters", got.Outline)
	}
	if got.TotalChapters != 3 {
		t.Fatalf("total chapters = %d, want 3", got.TotalChapters)
	}
	if len(got.CharacterNames) == 0 {
		t.Fatal("character names not recorded from the plan")
	}

	sum := 0
	for i, ch := range got.Outline.Chapters {
		if ch.Index != i {
			t.Fatalf("chapter %d has index %d", i, ch.Index)
		}
		sum += ch.TargetWords
	}
	if sum != 3000 {
		t.Fatalf("word targets sum to %d, want 3000", sum)
	}

	step, ok := pub.popStep()
	if !ok {
		t.Fatal("first chapter step not dispatched")
	}
	if step.BookID != "book-1" || step.ChapterIndex != 0 {
		t.Fatalf("first step = %+v", step)
	}
}

func TestPlanChapterCountMismatchFailsBook(t *testing.T) {
	book := outliningBook("book-1", 3, 3000)
	books := newFakeBookRepo(book)
	client := &fakeClient{
		outlineFn: func(*entity.Book) (*OutlinePlan, error) {
			return &OutlinePlan{Chapters: []entity.ChapterSpec{{Title: "Only One"}}}, nil
		},
	}
	pub := &fakePublisher{}
	p := NewPlanner(books, client, pub, testConfig())

	if err := p.Plan(context.Background(), "book-1"); err == nil {
		t.Fatal("want error on chapter count mismatch")
	}
	got := books.get("book-1")
	if got.Status != entity.BookStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Outline != nil {
		t.Fatal("invalid outline must not be persisted")
	}
	if pub.stepCount() != 0 {
		t.Fatal("failed planning must not dispatch steps")
	}
}

func TestPlanModelFailureFailsBook(t *testing.T) {
	book := outliningBook("book-1", 2, 1000)
	books := newFakeBookRepo(book)
	client := &fakeClient{
		outlineFn: func(*entity.Book) (*OutlinePlan, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	pub := &fakePublisher{}
	p := NewPlanner(books, client, pub, testConfig())

	if err := p.Plan(context.Background(), "book-1"); err == nil {
		t.Fatal("want error when outline generation fails")
	}
	if got := books.get("book-1"); got.Status != entity.BookStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestPlanRunsOnce(t *testing.T) {
	book := outliningBook("book-1", 2, 1000)
	books := newFakeBookRepo(book)
	client := &fakeClient{}
	pub := &fakePublisher{}
	p := NewPlanner(books, client, pub, testConfig())

	if err := p.Plan(context.Background(), "book-1"); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	first := books.get("book-1").Outline

	// 重复投递：不重新规划，只补投第一条章节消息
	if err := p.Plan(context.Background(), "book-1"); err != nil {
		t.Fatalf("redelivered Plan: %v", err)
	}
	if client.outlineCalls != 1 {
		t.Fatalf("outline generated %d times, want 1", client.outlineCalls)
	}
	second := books.get("book-1").Outline
	if len(second.Chapters) != len(first.Chapters) {
		t.Fatal("outline changed on redelivery")
	}
	if pub.stepCount() != 2 {
		t.Fatalf("step messages = %d, want 2 (one per delivery)", pub.stepCount())
	}
}

func TestPlanSkipsFinishedBook(t *testing.T) {
	book := outliningBook("book-1", 2, 1000)
	book.Status = entity.BookStatusCompleted
	books := newFakeBookRepo(book)
	client := &fakeClient{}
	pub := &fakePublisher{}
	p := NewPlanner(books, client, pub, testConfig())

	if err := p.Plan(context.Background(), "book-1"); err != nil {
		t.Fatalf("plan on finished book should be a no-op, got %v", err)
	}
	if client.outlineCalls != 0 {
		t.Fatal("finished book must not be planned")
	}
}

func TestNormalizeWordTargets(t *testing.T) {
	tests := []struct {
		name  string
		words []int
		total int
		want  []int
	}{
		{"scales proportionally", []int{100, 100, 200}, 800, []int{200, 200, 400}},
		{"remainder lands on last chapter", []int{100, 100, 100}, 1000, []int{333, 333, 334}},
		{"uniform fallback when model gave nothing", []int{0, 0, 0, 0}, 1000, []int{250, 250, 250, 250}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chapters := make([]entity.ChapterSpec, len(tt.words))
			for i, w := range tt.words {
				chapters[i] = entity.ChapterSpec{Index: i, TargetWords: w}
			}
			normalizeWordTargets(chapters, tt.total)

			sum := 0
			for i, ch := range chapters {
				if ch.TargetWords != tt.want[i] {
					t.Errorf("chapter %d = %d, want %d", i, ch.TargetWords, tt.want[i])
				}
				sum += ch.TargetWords
			}
			if sum != tt.total {
				t.Errorf("sum = %d, want %d", sum, tt.total)
			}
		})
	}
}

func TestNormalizeCharacterNames(t *testing.T) {
	got := normalizeCharacterNames([]string{" Ava ", "Ben", "", "Ava", "  "})
	if len(got) != 2 || got[0] != "Ava" || got[1] != "Ben" {
		t.Fatalf("normalized = %v", got)
	}
}
