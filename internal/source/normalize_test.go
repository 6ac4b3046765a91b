package source

import (
	"testing"
	"time"

	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/security"
)

// fixedNow はテスト用の固定時刻。
var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	n := NewNormalizer(security.NewTextSanitizer())
	n.now = func() time.Time { return fixedNow }
	return n
}

// TestNormalize_SanitizesTextFields はタイトル・説明・本文がサニタイズされることを検証する。
func TestNormalize_SanitizesTextFields(t *testing.T) {
	n := testNormalizer()

	got := n.Normalize(model.Article{
		Keyword:     "acme",
		SourceName:  "TechNews",
		Author:      "Jane Doe",
		Title:       "<b>Acme</b> raises funding",
		Description: "The startup <a href=\"https://x\">announced</a> a new round &amp; more",
		Content:     "<p>Full story here</p>",
		PublishedAt: fixedNow,
	})

	if got.Title != "Acme raises funding" {
		t.Errorf("Title = %q, want %q", got.Title, "Acme raises funding")
	}
	if got.Description != "The startup announced a new round & more" {
		t.Errorf("Description = %q, want %q", got.Description, "The startup announced a new round & more")
	}
	if got.Content != "Full story here" {
		t.Errorf("Content = %q, want %q", got.Content, "Full story here")
	}
}

// TestNormalize_FillsDefaults は欠損フィールドが補完されることを検証する。
func TestNormalize_FillsDefaults(t *testing.T) {
	n := testNormalizer()

	got := n.Normalize(model.Article{
		Keyword: "acme",
		Title:   "Some headline",
	})

	if got.SourceName != "Unknown" {
		t.Errorf("SourceName = %q, want %q", got.SourceName, "Unknown")
	}
	if got.Author != "Unknown" {
		t.Errorf("Author = %q, want %q", got.Author, "Unknown")
	}
	if !got.PublishedAt.Equal(fixedNow) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, fixedNow)
	}
}

// TestNormalize_KeepsProvidedValues は値が既にある場合は補完しないことを検証する。
func TestNormalize_KeepsProvidedValues(t *testing.T) {
	n := testNormalizer()
	published := time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC)

	got := n.Normalize(model.Article{
		Keyword:     "acme",
		SourceName:  "TechNews",
		Author:      "Jane Doe",
		Title:       "Some headline",
		PublishedAt: published,
	})

	if got.SourceName != "TechNews" {
		t.Errorf("SourceName = %q, want %q", got.SourceName, "TechNews")
	}
	if got.Author != "Jane Doe" {
		t.Errorf("Author = %q, want %q", got.Author, "Jane Doe")
	}
	if !got.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, published)
	}
}

// TestNormalize_TruncatesContent は本文が255文字に切り詰められることを検証する。
func TestNormalize_TruncatesContent(t *testing.T) {
	n := testNormalizer()

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'あ'
	}

	got := n.Normalize(model.Article{
		Keyword: "acme",
		Title:   "Some headline",
		Content: string(long),
	})

	if runeLen := len([]rune(got.Content)); runeLen != contentPreviewRunes {
		t.Errorf("len(Content) = %d runes, want %d", runeLen, contentPreviewRunes)
	}
}

// TestDedupArticles はバッチ内の重複が除去されることを検証する。
func TestDedupArticles(t *testing.T) {
	articles := []model.Article{
		{Keyword: "acme", Title: "First", URL: "https://example.com/1"},
		{Keyword: "acme", Title: "First again", URL: "https://example.com/1"},
		{Keyword: "acme", Title: "Second", URL: "https://example.com/2"},
		{Keyword: "acme", Title: "No URL"},
		{Keyword: "acme", Title: "No URL"},
		{Keyword: "other", Title: "No URL"},
	}

	got := DedupArticles(articles)

	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
	// 先に現れた記事が残り、順序が保持される
	if got[0].Title != "First" {
		t.Errorf("got[0].Title = %q, want %q", got[0].Title, "First")
	}
	if got[1].URL != "https://example.com/2" {
		t.Errorf("got[1].URL = %q, want %q", got[1].URL, "https://example.com/2")
	}
	if got[2].Title != "No URL" || got[2].Keyword != "acme" {
		t.Errorf("got[2] = %+v, want keyword=acme title=No URL", got[2])
	}
	// URLのない記事はキーワードが異なれば別記事として扱う
	if got[3].Keyword != "other" {
		t.Errorf("got[3].Keyword = %q, want %q", got[3].Keyword, "other")
	}
}

// TestDedupArticles_Empty は空入力に対して空スライスを返すことを検証する。
func TestDedupArticles_Empty(t *testing.T) {
	got := DedupArticles(nil)
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}
