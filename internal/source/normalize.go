package source

import (
	"time"

	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/security"
)

// contentPreviewRunes は保存するContentプレビューの最大文字数。
const contentPreviewRunes = 255

// unknownValue は欠損したソース名・著者名の補完値。
const unknownValue = "Unknown"

// Normalizer はプロバイダ応答の記事を共通形式へ正規化する。
// テキストフィールドのサニタイズ、欠損値の補完、本文プレビューの切り詰めを行う。
type Normalizer struct {
	sanitizer security.TextSanitizerService
	now       func() time.Time // テストで固定時刻に差し替える
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
func NewNormalizer(sanitizer security.TextSanitizerService) *Normalizer {
	return &Normalizer{
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Normalize は記事1件を正規化して返す。
//   - タイトル・説明・本文はHTMLタグを除去したプレーンテキストにする
//   - ソース名・著者名が空の場合は "Unknown" で補完する
//   - 公開日時が欠損している場合は現在時刻（UTC）で補完する
//   - 本文は255文字のプレビューに切り詰める
func (n *Normalizer) Normalize(a model.Article) model.Article {
	a.Title = n.sanitizer.Sanitize(a.Title)
	a.Description = n.sanitizer.Sanitize(a.Description)
	a.Content = truncateRunes(n.sanitizer.Sanitize(a.Content), contentPreviewRunes)

	if a.SourceName == "" {
		a.SourceName = unknownValue
	}
	if a.Author == "" {
		a.Author = unknownValue
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = n.now().UTC()
	} else {
		a.PublishedAt = a.PublishedAt.UTC()
	}

	return a
}

// NormalizeAll は記事スライスをすべて正規化して返す。
func (n *Normalizer) NormalizeAll(articles []model.Article) []model.Article {
	out := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		out = append(out, n.Normalize(a))
	}
	return out
}

// truncateRunes は文字列を最大max文字（rune単位）に切り詰める。
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// DedupArticles はバッチ内の重複記事を除去する。
// URLを持つ記事はURLで、持たない記事はキーワードとタイトルの組で同一性を判定し、
// 先に現れた記事を残す。入力の順序は保持される。
func DedupArticles(articles []model.Article) []model.Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		key := a.URL
		if key == "" {
			key = a.Keyword + "\x00" + a.Title
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
