package stream

import (
	"time"

	"github.com/hitoshi/mentiond/internal/model"
)

// ストリームエントリのフィールドキー。
// 記事プロバイダのワイヤ表現に合わせてcamelCaseを使用する。
const (
	FieldKeyword     = "keyword"
	FieldSource      = "source"
	FieldAuthor      = "author"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldURL         = "url"
	FieldImageURL    = "urlToImage"
	FieldPublishedAt = "publishedAt"
	FieldContent     = "content"
)

// ArticleFields はArticleをストリーム追記用のフラットな文字列マップへ変換する。
// publishedAtはRFC3339で表現する。
func ArticleFields(a model.Article) map[string]string {
	return map[string]string{
		FieldKeyword:     a.Keyword,
		FieldSource:      a.SourceName,
		FieldAuthor:      a.Author,
		FieldTitle:       a.Title,
		FieldDescription: a.Description,
		FieldURL:         a.URL,
		FieldImageURL:    a.ImageURL,
		FieldPublishedAt: a.PublishedAt.UTC().Format(time.RFC3339),
		FieldContent:     a.Content,
	}
}

// ParseArticle はストリームエントリのフィールドマップをArticleへ復元する。
// 欠損フィールドは空文字列になる。publishedAtがパースできない場合は
// 取得時刻の補完と同じ扱いで現在時刻を使用する。
func ParseArticle(fields map[string]string) model.Article {
	a := model.Article{
		Keyword:     fields[FieldKeyword],
		SourceName:  fields[FieldSource],
		Author:      fields[FieldAuthor],
		Title:       fields[FieldTitle],
		Description: fields[FieldDescription],
		URL:         fields[FieldURL],
		ImageURL:    fields[FieldImageURL],
		Content:     fields[FieldContent],
	}

	if t, err := time.Parse(time.RFC3339, fields[FieldPublishedAt]); err == nil {
		a.PublishedAt = t
	} else {
		a.PublishedAt = time.Now().UTC()
	}

	return a
}
